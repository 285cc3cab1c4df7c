package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileAccess serves the agent's fs/read_text_file and fs/write_text_file
// requests.
type FileAccess interface {
	ReadText(path string, line, limit *int) (string, error)
	WriteText(path string, content string) error
}

// LocalFiles is the default FileAccess over the local filesystem.
type LocalFiles struct{}

// ReadText returns the file content, optionally windowed to limit lines
// starting at the 1-based line.
func (LocalFiles) ReadText(path string, line, limit *int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	if line == nil && limit == nil {
		return content, nil
	}

	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 1 {
		start = *line - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// WriteText writes content to path, creating parent directories as needed.
func (LocalFiles) WriteText(path string, content string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
