package ignore

import (
	"fmt"
	"os"
	"strings"
)

// RefreshFile merges patterns into the ignore file at path, one pattern
// per line. The merge is additive only: lines already present are kept
// untouched (including lines dotsyncd never wrote), and only patterns
// missing from the file are appended. Returns the number of appended
// patterns.
func RefreshFile(path string, patterns []string) (int, error) {
	existing := make(map[string]bool)
	var lines []string

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read ignore file: %w", err)
	}
	if err == nil && len(data) > 0 {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			lines = append(lines, line)
			existing[strings.TrimSpace(line)] = true
		}
	}

	added := 0
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || existing[p] {
			continue
		}
		lines = append(lines, p)
		existing[p] = true
		added++
	}

	if added == 0 {
		return 0, nil
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return 0, fmt.Errorf("failed to write ignore file: %w", err)
	}
	return added, nil
}
