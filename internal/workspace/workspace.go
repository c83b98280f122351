package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"webforge/internal/models"
)

// Apply materializes one planned file action under root. Both kinds are a
// full-file overwrite; create additionally ensures parent directories. A
// failure affects only this file's action.
func Apply(root string, action models.FileAction, content string) error {
	full, err := resolve(root, action.Path)
	if err != nil {
		return err
	}
	if action.Kind == models.ActionCreate {
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("%s %s: %w", action.Kind, action.Path, err)
		}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%s %s: %w", action.Kind, action.Path, err)
	}
	return nil
}

// resolve joins path under root and rejects escapes like "../../etc/passwd",
// since paths come from model output.
func resolve(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return filepath.Join(root, clean), nil
}
