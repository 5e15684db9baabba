package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeMasterList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patients.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write master list: %v", err)
	}
	return path
}

func TestLoadMasterList(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "plain list",
			content: "VR-A01-AAA0090\nVR-A01-AAA2142\n",
			want:    []string{"VR-A01-AAA0090", "VR-A01-AAA2142"},
		},
		{
			name:    "comments and blanks ignored",
			content: "# batch 7\n\nVR-A01-AAA0090\n\n  # trailing note\nVR-A01-AAA2142\n",
			want:    []string{"VR-A01-AAA0090", "VR-A01-AAA2142"},
		},
		{
			name:    "whitespace trimmed",
			content: "  VR-A01-AAA0090  \n\tVR-A01-AAA2142\n",
			want:    []string{"VR-A01-AAA0090", "VR-A01-AAA2142"},
		},
		{
			name:    "duplicates keep first occurrence",
			content: "VR-A01-AAA2142\nVR-A01-AAA0090\nVR-A01-AAA2142\n",
			want:    []string{"VR-A01-AAA2142", "VR-A01-AAA0090"},
		},
		{
			name:    "missing trailing newline",
			content: "VR-A01-AAA0090",
			want:    []string{"VR-A01-AAA0090"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeMasterList(t, tt.content)
			got, err := LoadMasterList(path)
			if err != nil {
				t.Fatalf("LoadMasterList failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLoadMasterListEmpty(t *testing.T) {
	path := writeMasterList(t, "# only comments\n\n")
	if _, err := LoadMasterList(path); err == nil {
		t.Error("Expected an error for a list with no folder numbers")
	}
}

func TestLoadMasterListMissingFile(t *testing.T) {
	if _, err := LoadMasterList(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
