package extract

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoadMasterList reads the newline-delimited master patient list. Lines
// starting with # are comments; blank lines are ignored; duplicates keep the
// first occurrence.
func LoadMasterList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open master list: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var folders []string

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if _, dup := seen[text]; dup {
			log.Warn().Str("folder", text).Int("line", line).Msg("Duplicate folder number in master list, keeping first occurrence")
			continue
		}
		seen[text] = struct{}{}
		folders = append(folders, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read master list: %w", err)
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("master list %s contains no folder numbers", path)
	}
	return folders, nil
}
