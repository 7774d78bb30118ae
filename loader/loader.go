package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"docrag/types"
)

// Loader turns a source into ordered pages of plain text.
type Loader interface {
	Load(ctx context.Context, src types.Source) ([]types.Page, error)
}

// Router dispatches a source to the loader registered for its kind.
type Router struct {
	PDF  Loader
	Link Loader
}

func NewRouter(cfg types.LoaderConfig) *Router {
	return &Router{
		PDF:  NewPDFLoader(cfg),
		Link: NewURLLoader(cfg),
	}
}

func (r *Router) Load(ctx context.Context, src types.Source) ([]types.Page, error) {
	var (
		pages []types.Page
		err   error
	)
	switch src.Kind {
	case types.SourcePDF:
		pages, err = r.PDF.Load(ctx, src)
	case types.SourceLink:
		pages, err = r.Link.Load(ctx, src)
	default:
		return nil, types.NewValidationError(map[string]string{"Kind": fmt.Sprintf("unsupported source kind %q", src.Kind)})
	}
	if err != nil {
		return nil, err
	}
	if !hasText(pages) {
		return nil, types.NewError(types.ErrLoad, "load", fmt.Errorf("no extractable text in %s", src.Name))
	}
	return pages, nil
}

func hasText(pages []types.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// spool copies r into a temp file in dir and returns its path together with a
// cleanup func that removes it. The cleanup is safe to call more than once.
func spool(dir, pattern string, r io.Reader, maxBytes int64) (string, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Default().Warn("temp file not removed", "path", path, "error", err)
		}
	}

	limited := io.LimitReader(r, maxBytes+1)
	n, err := io.Copy(f, limited)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if n > maxBytes {
		cleanup()
		return "", func() {}, fmt.Errorf("upload exceeds %d bytes", maxBytes)
	}
	return path, cleanup, nil
}
