package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stealthcompany.com/hisextract/internal/his"
	"stealthcompany.com/hisextract/internal/metrics"
)

// FileEntry is one artifact file recorded in a patient's manifest.
type FileEntry struct {
	Name          string             `json:"name"`
	Kind          string             `json:"kind"` // "opd" or "ipd"
	ByteSize      int                `json:"byteSize"`
	Integrity     Integrity          `json:"integrity"`
	Consultations []his.Consultation `json:"consultations,omitempty"`
	Admission     *his.Admission     `json:"admission,omitempty"`
}

// Manifest is the per-patient audit record written next to the artifacts.
type Manifest struct {
	FolderNumber string      `json:"folderNumber"`
	ProducedAt   time.Time   `json:"producedAt"`
	Files        []FileEntry `json:"files"`
}

// Writer persists artifacts under one directory per patient folder number.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Patient opens the artifact set for one folder number. The directory is
// created eagerly so a succeeded patient with zero visits still gets exactly
// one (empty) artifact set.
func (w *Writer) Patient(folderNumber string) (*PatientSet, error) {
	dir := filepath.Join(w.dir, folderNumber)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create patient directory %s: %w", folderNumber, err)
	}
	return &PatientSet{
		dir: dir,
		manifest: Manifest{
			FolderNumber: folderNumber,
			Files:        []FileEntry{},
		},
	}, nil
}

// PatientSet accumulates one patient's artifacts and manifest.
type PatientSet struct {
	dir      string
	manifest Manifest
}

// WriteOPD stores the consolidated outpatient report and classifies it.
func (p *PatientSet) WriteOPD(data []byte, consultations []his.Consultation) (Integrity, error) {
	integrity := Classify(data)
	name := "opd.pdf"
	if err := p.write(name, data); err != nil {
		return integrity, err
	}
	p.manifest.Files = append(p.manifest.Files, FileEntry{
		Name:          name,
		Kind:          "opd",
		ByteSize:      len(data),
		Integrity:     integrity,
		Consultations: consultations,
	})
	metrics.RecordArtifact("opd", string(integrity))
	return integrity, nil
}

// WriteIPD stores one admission's report and classifies it.
func (p *PatientSet) WriteIPD(data []byte, admission his.Admission) (Integrity, error) {
	integrity := Classify(data)
	name := fmt.Sprintf("ipd-%d.pdf", admission.AdmitID)
	if err := p.write(name, data); err != nil {
		return integrity, err
	}
	adm := admission
	p.manifest.Files = append(p.manifest.Files, FileEntry{
		Name:      name,
		Kind:      "ipd",
		ByteSize:  len(data),
		Integrity: integrity,
		Admission: &adm,
	})
	metrics.RecordArtifact("ipd", string(integrity))
	return integrity, nil
}

// Finalize writes the manifest. Call once after all artifacts are stored.
func (p *PatientSet) Finalize() error {
	p.manifest.ProducedAt = time.Now().UTC()
	data, err := json.MarshalIndent(p.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return p.write("manifest.json", data)
}

// write stores a file via temp-and-rename so an interrupted run never leaves
// a truncated artifact that a resume would mistake for a complete one.
func (p *PatientSet) write(name string, data []byte) error {
	tmp := filepath.Join(p.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(p.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return nil
}
