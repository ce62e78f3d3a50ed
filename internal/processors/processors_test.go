package processors_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"docket/internal/processor"
	"docket/internal/processors"
)

func writeDocument(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func TestSniffDetectsPlainText(t *testing.T) {
	path := writeDocument(t, "notes.txt", "plain text content\n")
	proc, err := processors.NewSniff(nil)
	if err != nil {
		t.Fatalf("NewSniff() = %v", err)
	}

	result, err := proc.Process(context.Background(), &processor.Context{
		DocumentID: "doc-1",
		FilePath:   path,
	})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	mime, _ := result.Data["mime_type"].(string)
	if mime != "text/plain; charset=utf-8" {
		t.Fatalf("mime_type = %q", mime)
	}
	if result.Data["extension"] != ".txt" {
		t.Fatalf("extension = %v", result.Data["extension"])
	}
	if size, _ := result.Data["size_bytes"].(int64); size != int64(len("plain text content\n")) {
		t.Fatalf("size_bytes = %v", result.Data["size_bytes"])
	}
}

func TestSniffMissingFile(t *testing.T) {
	proc, _ := processors.NewSniff(nil)
	_, err := proc.Process(context.Background(), &processor.Context{FilePath: "/nonexistent/doc.bin"})
	if err == nil {
		t.Fatal("Process() on missing file should fail")
	}
}

func TestChecksumMatchesDigest(t *testing.T) {
	content := "hello world\n"
	path := writeDocument(t, "doc.txt", content)
	proc, err := processors.NewChecksum(nil)
	if err != nil {
		t.Fatalf("NewChecksum() = %v", err)
	}

	result, err := proc.Process(context.Background(), &processor.Context{FilePath: path})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	if got := result.Data["sha256"]; got != hex.EncodeToString(sum[:]) {
		t.Fatalf("sha256 = %v, want %s", got, hex.EncodeToString(sum[:]))
	}
	if got, _ := result.Data["size_bytes"].(int64); got != int64(len(content)) {
		t.Fatalf("size_bytes = %v", result.Data["size_bytes"])
	}
}

func TestWordcountCountsText(t *testing.T) {
	path := writeDocument(t, "doc.txt", "one two three\nfour five one\n")
	proc, err := processors.NewWordcount(nil)
	if err != nil {
		t.Fatalf("NewWordcount() = %v", err)
	}

	result, err := proc.Process(context.Background(), &processor.Context{
		FilePath: path,
		MIMEType: "text/plain",
	})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if result.Data["words"] != 6 {
		t.Fatalf("words = %v, want 6", result.Data["words"])
	}
	if result.Data["unique_words"] != 5 {
		t.Fatalf("unique_words = %v, want 5", result.Data["unique_words"])
	}
	if result.Data["lines"] != 2 {
		t.Fatalf("lines = %v, want 2", result.Data["lines"])
	}
	if result.Data["binary"] != false {
		t.Fatalf("binary = %v, want false", result.Data["binary"])
	}
}

func TestWordcountUsesSniffResult(t *testing.T) {
	path := writeDocument(t, "doc.bin", "\x00\x01\x02 binary-ish")
	proc, _ := processors.NewWordcount(nil)

	upstream := processor.NewResult("sniff")
	upstream.Data["mime_type"] = "application/octet-stream"
	result, err := proc.Process(context.Background(), &processor.Context{
		FilePath: path,
		Upstream: map[string]*processor.Result{"sniff": upstream},
	})
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if result.Data["binary"] != true {
		t.Fatalf("binary = %v, want true for octet-stream", result.Data["binary"])
	}
	if result.Data["words"] != 0 {
		t.Fatalf("words = %v, want 0 for binary document", result.Data["words"])
	}
}

func TestWordcountConfigValidation(t *testing.T) {
	if _, err := processors.NewWordcount(map[string]any{"max_bytes": -5}); err == nil {
		t.Fatal("negative max_bytes should be rejected")
	}
	if _, err := processors.NewWordcount(map[string]any{"max_bytes": "lots"}); err == nil {
		t.Fatal("non-numeric max_bytes should be rejected")
	}
	if _, err := processors.NewWordcount(map[string]any{"max_bytes": int64(1024)}); err != nil {
		t.Fatalf("valid max_bytes rejected: %v", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := processor.NewRegistry()
	if err := processors.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins() = %v", err)
	}
	names := registry.List()
	if len(names) != 3 {
		t.Fatalf("List() = %v, want three builtins", names)
	}
	for _, name := range []string{"checksum", "sniff", "wordcount"} {
		if _, err := registry.New(name, nil); err != nil {
			t.Fatalf("New(%s) = %v", name, err)
		}
	}
	if err := processors.RegisterBuiltins(registry); err == nil {
		t.Fatal("second RegisterBuiltins() should fail on duplicates")
	}
}
