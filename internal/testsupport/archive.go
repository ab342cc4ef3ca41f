package testsupport

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteCBZ writes a minimal zip comic archive with the given page count.
// Parent directories are created as needed.
func WriteCBZ(t testing.TB, path string, pages int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 1; i <= pages; i++ {
		page, err := zw.Create(fmt.Sprintf("page_%03d.jpg", i))
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := page.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0}); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
