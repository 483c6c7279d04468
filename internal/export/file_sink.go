package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

const (
	recordFile  = "record.json"
	summaryFile = "summary.json"
)

// FileSink stores each export as <dir>/<key>/record.json and summary.json.
type FileSink struct {
	dir string
}

var _ ports.ExportSink = (*FileSink)(nil)

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Write(ctx context.Context, doc *domain.ExportDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, filepath.FromSlash(doc.Key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	record, err := encode(doc.Record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	summary, err := encode(doc.Summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, recordFile), record); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, summaryFile), summary); err != nil {
		return "", err
	}
	return doc.Key, nil
}

func (s *FileSink) Read(ctx context.Context, key string) (*domain.ExportDocument, error) {
	dir := filepath.Join(s.dir, filepath.FromSlash(key))
	doc := &domain.ExportDocument{Key: key}

	if err := readJSON(filepath.Join(dir, recordFile), &doc.Record); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, summaryFile), &doc.Summary); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *FileSink) Close() error { return nil }

// writeAtomic writes data to a temp file next to path and renames it over
// path, so readers never see a partial document.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
