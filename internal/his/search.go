package his

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// The search endpoint matches folder numbers by substring: querying
// VR-A01-AAA0090 also returns VR-A01-AAA00901 and anything else containing
// the query. Taking "the first id in the response" silently binds another
// patient's medical record to the queried folder number, so resolution only
// ever accepts rows whose own folder-number cell is an exact match.

var (
	searchRowPattern  = regexp.MustCompile(`(?s)<tr[^>]*\bdata-patient-id="(\d+)"[^>]*>(.*?)</tr>`)
	folderCellPattern = regexp.MustCompile(`(?s)<td[^>]*\bclass="[^"]*\bfolder-no\b[^"]*"[^>]*>(.*?)</td>`)
	nameCellPattern   = regexp.MustCompile(`(?s)<td[^>]*\bclass="[^"]*\bpatient-name\b[^"]*"[^>]*>(.*?)</td>`)
	demoCellPattern   = regexp.MustCompile(`(?s)<td[^>]*\bclass="[^"]*\bdemographics\b[^"]*"[^>]*>(.*?)</td>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
)

// searchRow is one parsed result-table fragment.
type searchRow struct {
	internalID   int
	folderNumber string
	displayName  string
	demographics string
	fragment     string
}

// parseSearchRows splits the raw search markup into row fragments and pulls
// out the embedded internal id plus the folder-number cell. Rows without a
// parseable id are dropped; resolution decisions happen in ResolvePatient.
func parseSearchRows(raw string) []searchRow {
	matches := searchRowPattern.FindAllStringSubmatch(raw, -1)
	rows := make([]searchRow, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		row := searchRow{internalID: id, fragment: m[2]}
		if cell := folderCellPattern.FindStringSubmatch(m[2]); cell != nil {
			row.folderNumber = cellText(cell[1])
		}
		if cell := nameCellPattern.FindStringSubmatch(m[2]); cell != nil {
			row.displayName = cellText(cell[1])
		}
		if cell := demoCellPattern.FindStringSubmatch(m[2]); cell != nil {
			row.demographics = cellText(cell[1])
		}
		rows = append(rows, row)
	}
	return rows
}

func cellText(cell string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(cell, "")))
}

// matchesExactly reports whether a row belongs to the queried folder number.
// The folder-number cell is compared for equality when present; otherwise the
// fragment is scanned for the folder number with token boundaries, so a row
// for VR-A01-AAA00901 can never satisfy a query for VR-A01-AAA0090.
func matchesExactly(row searchRow, folderNumber string) bool {
	if row.folderNumber != "" {
		return row.folderNumber == folderNumber
	}
	boundary := regexp.MustCompile(`(^|[^A-Za-z0-9-])` + regexp.QuoteMeta(folderNumber) + `($|[^A-Za-z0-9-])`)
	return boundary.MatchString(row.fragment)
}

// ResolvePatient maps a human-entered folder number to the portal's internal
// patient id. Zero exact matches is ErrNotFound; more than one distinct
// internal id with the same folder number is an AmbiguousMatchError and is
// surfaced rather than guessed at.
func (c *Client) ResolvePatient(ctx context.Context, folderNumber string) (*PatientRecord, error) {
	folderNumber = strings.TrimSpace(folderNumber)
	if folderNumber == "" {
		return nil, fmt.Errorf("empty folder number")
	}

	body, err := c.get(ctx, "patient_search", "/portal/patients/search", url.Values{
		"q": {folderNumber},
	})
	if err != nil {
		return nil, err
	}

	rows := parseSearchRows(string(body))

	var matched []searchRow
	for _, row := range rows {
		if matchesExactly(row, folderNumber) {
			matched = append(matched, row)
		}
	}

	if len(matched) == 0 {
		log.Debug().
			Str("folder", folderNumber).
			Int("candidates", len(rows)).
			Msg("No exact match in search results")
		return nil, fmt.Errorf("resolve %s: %w", folderNumber, ErrNotFound)
	}

	ids := map[int]struct{}{}
	for _, row := range matched {
		ids[row.internalID] = struct{}{}
	}
	if len(ids) > 1 {
		distinct := make([]int, 0, len(ids))
		for id := range ids {
			distinct = append(distinct, id)
		}
		sort.Ints(distinct)
		return nil, &AmbiguousMatchError{FolderNumber: folderNumber, InternalIDs: distinct}
	}

	first := matched[0]
	return &PatientRecord{
		InternalID:   first.internalID,
		FolderNumber: folderNumber,
		DisplayName:  first.displayName,
		Demographics: first.demographics,
	}, nil
}
