package artifact

import (
	"bytes"
	"regexp"
	"strconv"
)

// Integrity classifies a downloaded artifact by structural inspection.
type Integrity string

const (
	// IntegrityValid is a well-formed PDF with at least one page.
	IntegrityValid Integrity = "valid"
	// IntegrityEmpty is a well-formed PDF declaring zero pages. This usually
	// means the patient genuinely has no printable records for the visit set,
	// so it is recorded distinctly from a hard failure.
	IntegrityEmpty Integrity = "empty"
	// IntegrityMalformed is anything that is not structurally a PDF.
	IntegrityMalformed Integrity = "malformed"
)

var pdfMagic = []byte("%PDF-")

var (
	// /Type /Pages ... /Count N inside the page-tree root dictionary.
	pagesCountPattern = regexp.MustCompile(`/Type\s*/Pages\b[\s\S]{0,256}?/Count\s+(\d+)`)
	countPagesPattern = regexp.MustCompile(`/Count\s+(\d+)[\s\S]{0,256}?/Type\s*/Pages\b`)
	pageObjPattern    = regexp.MustCompile(`/Type\s*/Page[^s]`)
)

// Classify inspects the artifact bytes: magic-byte sniff first, then a page
// count pulled from the page tree (falling back to counting page objects).
func Classify(data []byte) Integrity {
	if !bytes.HasPrefix(data, pdfMagic) {
		return IntegrityMalformed
	}
	if PageCount(data) == 0 {
		return IntegrityEmpty
	}
	return IntegrityValid
}

// PageCount returns the declared page count of a PDF, or the number of page
// objects when the page tree does not declare one.
func PageCount(data []byte) int {
	if m := pagesCountPattern.FindSubmatch(data); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil {
			return n
		}
	}
	if m := countPagesPattern.FindSubmatch(data); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil {
			return n
		}
	}
	return len(pageObjPattern.FindAll(data, -1))
}
