// Package storage writes gallery images to a directory on disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/imagedata"
)

var ErrFileNotFound = errors.New("file not found")

const maxSlugLen = 40

type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) filePath(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	return filepath.Join(s.baseDir, name), nil
}

func (s *Store) Put(name string, content []byte) (string, error) {
	fullPath, err := s.filePath(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fullPath, nil
}

func (s *Store) Get(name string) ([]byte, error) {
	fullPath, err := s.filePath(name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// List returns exported file names in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Export decodes the item's image and writes it under a name derived from
// its prompt and id. Exporting the same item twice overwrites the file.
func (s *Store) Export(item gallery.Item) (string, error) {
	mimeType, data, err := imagedata.Decode(item.Src)
	if err != nil {
		return "", fmt.Errorf("decode item %s: %w", item.ID, err)
	}
	return s.Put(FileName(item, mimeType), data)
}

// FileName is the download name used for an item's image.
func FileName(item gallery.Item, mimeType string) string {
	id := item.ID
	if len(id) > 8 {
		id = id[:8]
	}
	name := slug(item.Prompt)
	if name == "" {
		name = "image"
	}
	return name + "-" + id + imagedata.Extension(mimeType)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if b.Len() >= maxSlugLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
