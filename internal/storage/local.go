package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"slate-backend/internal/config"
)

// FileInfo describes a stored file.
type FileInfo struct {
	Name   string
	Path   string
	Size   int64
	Mime   string
	Width  int
	Height int
}

// FileStorage writes uploads to a local directory. Stored names are
// prefixed with a random id so uploads cannot collide or overwrite.
type FileStorage struct {
	Root    string
	MaxSize int64
	client  *http.Client
}

func NewFileStorage(cfg config.StorageConfig) (*FileStorage, error) {
	root := cfg.LocalPath
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{
		Root:    root,
		MaxSize: cfg.MaxFileSize,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Save writes the bytes under a sanitized unique name and probes mime type
// and image dimensions.
func (s *FileStorage) Save(name string, data []byte) (*FileInfo, error) {
	if s.MaxSize > 0 && int64(len(data)) > s.MaxSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", s.MaxSize)
	}

	stored := uuid.NewString() + "-" + sanitizeName(name)
	path := filepath.Join(s.Root, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	info := &FileInfo{
		Name: stored,
		Path: path,
		Size: int64(len(data)),
		Mime: http.DetectContentType(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width = cfg.Width
		info.Height = cfg.Height
	}
	return info, nil
}

// SaveFromURL downloads a remote file and stores it.
func (s *FileStorage) SaveFromURL(ctx context.Context, url string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	limit := s.MaxSize
	if limit <= 0 {
		limit = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("remote file exceeds maximum size of %d bytes", limit)
	}

	name := filepath.Base(strings.Split(url, "?")[0])
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return s.Save(name, data)
}

// Open returns a reader for a stored file.
func (s *FileStorage) Open(name string) (io.ReadCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes a stored file. Missing files are not an error.
func (s *FileStorage) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// resolve rejects names that escape the storage root.
func (s *FileStorage) resolve(name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid file name")
	}
	return filepath.Join(s.Root, clean), nil
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
