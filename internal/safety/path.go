package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}

// FlattenPath turns an absolute path into a single file-name-safe token by
// dropping the leading separator and replacing the rest with underscores.
func FlattenPath(p string) string {
	trimmed := strings.TrimPrefix(p, string(filepath.Separator))
	return strings.ReplaceAll(trimmed, string(filepath.Separator), "_")
}
