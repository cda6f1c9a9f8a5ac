package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ucaep.org/internal/content"
)

func TestDiskUploaderWritesAndReturnsURL(t *testing.T) {
	root := t.TempDir()
	u, err := NewDiskUploader(root, "/static/")
	if err != nil {
		t.Fatalf("NewDiskUploader: %v", err)
	}

	url, err := u.Upload(context.Background(), content.FileUpload{
		Name:        "photo.JPG",
		ContentType: "image/jpeg",
		Folder:      "producers",
		Data:        []byte("binary"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(url, "/static/producers/") || !strings.HasSuffix(url, ".jpg") {
		t.Fatalf("unexpected url: %s", url)
	}

	rel := strings.TrimPrefix(url, "/static/")
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "binary" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestDiskUploaderRejectsEmptyFile(t *testing.T) {
	u, err := NewDiskUploader(t.TempDir(), "/static")
	if err != nil {
		t.Fatalf("NewDiskUploader: %v", err)
	}
	if _, err := u.Upload(context.Background(), content.FileUpload{Name: "x.png"}); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestObjectKeyDefaultsAndUniqueness(t *testing.T) {
	first := objectKey("", "a.png")
	second := objectKey("", "a.png")
	if first == second {
		t.Fatalf("keys must not collide: %s", first)
	}
	if !strings.HasPrefix(first, "uploads/") {
		t.Fatalf("expected default folder, got %s", first)
	}
	if objectKey("news/", "doc.PDF") == objectKey("news", "doc.PDF") {
		t.Fatalf("keys must embed a fresh uuid")
	}
	if !strings.HasSuffix(objectKey("news", "doc.PDF"), ".pdf") {
		t.Fatalf("extension should be lower-cased")
	}
}
