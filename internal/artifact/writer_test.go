package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"stealthcompany.com/hisextract/internal/his"
)

func TestWriterProducesPerPatientDirectory(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	set, err := w.Patient("VR-A01-AAA2142")
	if err != nil {
		t.Fatalf("Patient failed: %v", err)
	}

	consultations := []his.Consultation{{ScheduleID: 8841, ServiceID: 12, Date: "2023-04-01", Department: "Medicine"}}
	integrity, err := set.WriteOPD(pdfWithPageCount("2"), consultations)
	if err != nil {
		t.Fatalf("WriteOPD failed: %v", err)
	}
	if integrity != IntegrityValid {
		t.Errorf("Expected valid OPD artifact, got %v", integrity)
	}

	admission := his.Admission{AdmitID: 4410, AdmissionDate: "2023-04-01", DischargeDate: "2023-04-09"}
	if _, err := set.WriteIPD(pdfWithPageCount("5"), admission); err != nil {
		t.Fatalf("WriteIPD failed: %v", err)
	}

	if err := set.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	dir := filepath.Join(root, "VR-A01-AAA2142")
	for _, name := range []string{"opd.pdf", "ipd-4410.pdf", "manifest.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("Manifest is not valid JSON: %v", err)
	}
	if manifest.FolderNumber != "VR-A01-AAA2142" {
		t.Errorf("Manifest folder mismatch: %s", manifest.FolderNumber)
	}
	if len(manifest.Files) != 2 {
		t.Fatalf("Expected 2 manifest files, got %d", len(manifest.Files))
	}
	if manifest.Files[0].Kind != "opd" || len(manifest.Files[0].Consultations) != 1 {
		t.Errorf("OPD manifest entry wrong: %+v", manifest.Files[0])
	}
	if manifest.Files[1].Kind != "ipd" || manifest.Files[1].Admission == nil || manifest.Files[1].Admission.AdmitID != 4410 {
		t.Errorf("IPD manifest entry wrong: %+v", manifest.Files[1])
	}
	if manifest.ProducedAt.IsZero() {
		t.Error("Manifest must carry a producedAt timestamp")
	}
}

func TestEmptyArtifactSetStillGetsDirectory(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	set, err := w.Patient("VR-A01-AAA0001")
	if err != nil {
		t.Fatalf("Patient failed: %v", err)
	}
	if err := set.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "VR-A01-AAA0001"))
	if err != nil || !info.IsDir() {
		t.Fatalf("Expected patient directory even with zero visits: %v", err)
	}

	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(root, "VR-A01-AAA0001", "manifest.json"))
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("Manifest is not valid JSON: %v", err)
	}
	if len(manifest.Files) != 0 {
		t.Errorf("Expected empty file list, got %+v", manifest.Files)
	}
}
