package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/stockmeta/internal/failure"
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/storage"
)

const sniffLen = 512

// Stage adds the file at path to the queue with a rendered thumbnail.
func (s *Service) Stage(ctx context.Context, path string) (storage.StagedItem, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return storage.StagedItem{}, err
	}
	return s.stageFile(ctx, abs, filepath.Base(abs))
}

// StageReader copies r into UploadDir and stages the copy under filename.
func (s *Service) StageReader(ctx context.Context, filename string, r io.Reader) (storage.StagedItem, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		return storage.StagedItem{}, fmt.Errorf("invalid filename %q", filename)
	}
	dir := s.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.StagedItem{}, fmt.Errorf("creating upload dir: %w", err)
	}
	dst := filepath.Join(dir, uuid.NewString()+"-"+name)
	f, err := os.Create(dst)
	if err != nil {
		return storage.StagedItem{}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return storage.StagedItem{}, fmt.Errorf("saving upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return storage.StagedItem{}, err
	}

	it, err := s.stageFile(ctx, dst, name)
	if err != nil {
		os.Remove(dst)
	}
	return it, err
}

func (s *Service) stageFile(ctx context.Context, path, filename string) (storage.StagedItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return storage.StagedItem{}, err
	}
	if info.IsDir() {
		return storage.StagedItem{}, fmt.Errorf("%s is a directory", path)
	}

	head, err := readHead(path)
	if err != nil {
		return storage.StagedItem{}, err
	}
	mimeType := media.DetectMIME(filename, head)
	if media.Classify(mimeType) == media.KindUnsupported {
		return storage.StagedItem{}, failure.New(failure.Media, "%s: unsupported file type %q", filename, mimeType)
	}

	src := media.Source{Path: path, Filename: filename, MimeType: mimeType}
	thumb, err := s.media.Thumbnail(ctx, src)
	if err != nil {
		s.logger.Warn("thumbnail failed", "file", filename, "error", err)
	}

	it := storage.StagedItem{
		ID:        uuid.NewString(),
		Filename:  filename,
		Path:      path,
		MimeType:  mimeType,
		Status:    "ready",
		Thumbnail: thumb,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.StageItem(it); err != nil {
		return storage.StagedItem{}, fmt.Errorf("staging %s: %w", filename, err)
	}
	s.logger.Debug("file staged", "file", filename, "mime", mimeType)
	return it, nil
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
