package storage

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"slate-backend/internal/config"
)

func newTestStorage(t *testing.T, maxSize int64) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(config.StorageConfig{LocalPath: t.TempDir(), MaxFileSize: maxSize})
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSaveProbesImageDimensions(t *testing.T) {
	fs := newTestStorage(t, 0)

	info, err := fs.Save("photo.png", pngBytes(t, 3, 2))
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 3 || info.Height != 2 {
		t.Errorf("dimensions = %dx%d", info.Width, info.Height)
	}
	if info.Mime != "image/png" {
		t.Errorf("mime = %q", info.Mime)
	}
	if !strings.HasSuffix(info.Name, "-photo.png") {
		t.Errorf("stored name = %q", info.Name)
	}

	f, err := fs.Open(info.Name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != info.Size {
		t.Errorf("stored size = %d, want %d", len(data), info.Size)
	}
}

func TestSaveSanitizesName(t *testing.T) {
	fs := newTestStorage(t, 0)

	info, err := fs.Save("../../etc/pass wd!.txt", []byte("plain text content"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(info.Name, "..") || strings.Contains(info.Name, "/") {
		t.Errorf("unsafe stored name %q", info.Name)
	}
	if !strings.HasSuffix(info.Name, "-pass_wd_.txt") {
		t.Errorf("stored name = %q", info.Name)
	}
}

func TestSaveEnforcesMaxSize(t *testing.T) {
	fs := newTestStorage(t, 4)
	if _, err := fs.Save("big.bin", []byte("12345")); err == nil {
		t.Error("oversized file accepted")
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	fs := newTestStorage(t, 0)
	if _, err := fs.Open("../outside"); err == nil {
		t.Error("traversal accepted")
	}
	if _, err := fs.Open("/etc/passwd"); err == nil {
		t.Error("absolute path accepted")
	}
}

func TestDeleteMissingIsNoError(t *testing.T) {
	fs := newTestStorage(t, 0)
	if err := fs.Delete("never-existed.txt"); err != nil {
		t.Errorf("delete missing: %v", err)
	}
}
