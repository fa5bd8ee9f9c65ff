package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"imgconv/internal/codec"
	"imgconv/internal/logging"
	"imgconv/internal/store"
)

// IngestResult reports the outcome for one input file. Entity is the zero
// value when Err is set.
type IngestResult struct {
	Path   string
	Entity store.Entity
	Err    error
}

// Ingest reads, decodes, and previews each path concurrently and adds every
// success to the uploaded collection. Results follow the order of paths;
// insertion order into the store follows completion. A failing file never
// affects its siblings.
func (s *Session) Ingest(ctx context.Context, paths []string) []IngestResult {
	ctx = s.context(ctx)
	results := make([]IngestResult, len(paths))

	var g errgroup.Group
	g.SetLimit(max(s.cfg.Ingest.Concurrency, 1))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = s.ingestFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Session) ingestFile(ctx context.Context, path string) IngestResult {
	res := IngestResult{Path: path}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	logger := logging.WithContext(ctx, s.logger)

	data, err := s.readInput(path)
	if err != nil {
		res.Err = err
	} else {
		res.Entity, res.Err = s.IngestBytes(ctx, filepath.Base(path), data)
	}
	if res.Err != nil {
		logging.WarnWithContext(logger, "image rejected", "ingest_failed",
			logging.String("path", path),
			logging.String(logging.FieldErrorKind, codec.Kind(res.Err)),
			logging.String(logging.FieldErrorHint, ingestHint(res.Err)),
			logging.Error(res.Err),
		)
	}
	return res
}

func (s *Session) readInput(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read %s: is a directory", path)
	}
	if limit := s.cfg.Ingest.MaxFileBytes; limit > 0 && info.Size() > limit {
		return nil, &codec.DecodeError{Err: fmt.Errorf("input of %d bytes exceeds limit of %d", info.Size(), limit)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// IngestBytes decodes data, renders its preview, and adds the new entity to
// the uploaded collection.
func (s *Session) IngestBytes(ctx context.Context, name string, data []byte) (store.Entity, error) {
	decoded, err := s.decoder.Decode(data)
	if err != nil {
		return store.Entity{}, fmt.Errorf("%s: %w", name, err)
	}

	var scratch bytes.Buffer
	preview, err := s.thumbs.Generate(decoded.Raster, &scratch)
	if err != nil {
		return store.Entity{}, fmt.Errorf("%s: preview: %w", name, err)
	}

	entity := store.NewEntity(name, decoded.Format, decoded.Raster, preview)
	if err := s.store.AddImage(entity); err != nil {
		return store.Entity{}, fmt.Errorf("%s: %w", name, err)
	}
	added, _, _ := s.store.Get(entity.ID)

	logging.WithContext(logging.WithEntityID(ctx, entity.ID), s.logger).Debug("image added",
		logging.String("name", name),
		logging.String("format", decoded.Format.Label()),
		logging.Int("width", entity.Width),
		logging.Int("height", entity.Height),
		logging.String(logging.FieldEventType, "image_added"),
	)
	return added, nil
}

func ingestHint(err error) string {
	switch codec.Kind(err) {
	case "format":
		return "file is not a recognized image; run 'imgconv formats' for the supported list"
	case "decode":
		return "file looks like an image but is damaged, truncated, or too large"
	default:
		return "check the path and file permissions"
	}
}
