package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ImportStats reports what ImportDir copied.
type ImportStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// timedPutter is implemented by backends that can keep a source file's
// modification time, so fingerprints of imported days stay stable.
type timedPutter interface {
	PutAt(key string, data []byte, contentType string, modTime time.Time) error
}

// ImportDir copies every regular file below root into dst, keyed by its
// slash-separated path relative to root. Hidden files and directories
// (leading '.') are skipped.
func ImportDir(ctx context.Context, dst Store, root string) (ImportStats, error) {
	var st ImportStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		ct := contentTypeFor(key)
		if tp, ok := dst.(timedPutter); ok {
			info, err := d.Info()
			if err != nil {
				return err
			}
			err = tp.PutAt(key, data, ct, info.ModTime())
			if err != nil {
				return fmt.Errorf("importing %s: %w", key, err)
			}
		} else if err := dst.Put(ctx, key, data, ct); err != nil {
			return fmt.Errorf("importing %s: %w", key, err)
		}
		st.Files++
		st.Bytes += int64(len(data))
		return nil
	})
	return st, err
}

func contentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".csv":
		return ContentTypeCSV
	case ".json":
		return ContentTypeJSON
	}
	return "application/octet-stream"
}
