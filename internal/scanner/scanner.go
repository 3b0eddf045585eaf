// Package scanner enumerates the photo library and decodes images into
// the uniform payload the caption backends accept.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/narro/internal/models"
)

// Scanner walks a photo library root and yields items keyed by their
// root-relative path. Keys use forward slashes on every platform so a
// journal written on one machine replays on another.
type Scanner struct {
	root       string
	extensions map[string]struct{}
}

// New creates a scanner for the given library root and extension set.
// Extensions are matched case-insensitively and must include the dot.
func New(root string, extensions []string) *Scanner {
	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	return &Scanner{root: root, extensions: extSet}
}

// Scan walks the library and returns matching items in deterministic
// (sorted) order. A missing or unreadable root is an error; unreadable
// subtrees abort the walk rather than silently dropping items.
func (s *Scanner) Scan() ([]models.Item, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("photo library %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("photo library %s is not a directory", s.root)
	}

	var items []models.Item
	err = filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := s.extensions[ext]; !ok {
			return nil
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		fileInfo, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}
		items = append(items, models.Item{
			Key:  filepath.ToSlash(rel),
			Path: path,
			Size: fileInfo.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan photo library %s: %w", s.root, err)
	}

	sort.Slice(items, func(i, k int) bool { return items[i].Key < items[k].Key })
	return items, nil
}
