package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteDocument writes a small document file for intake and pipeline tests,
// creating parent directories as needed, and returns its path.
func WriteDocument(t testing.TB, dir, name, content string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
