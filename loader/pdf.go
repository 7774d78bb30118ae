package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"docrag/types"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var disableConfigDir sync.Once

// PDFLoader extracts per-page text from an uploaded PDF. The upload is spooled
// to a temp file because both PDF libraries work on paths; the file never
// outlives Load.
type PDFLoader struct {
	tempDir  string
	maxBytes int64
	logger   *slog.Logger
}

func NewPDFLoader(cfg types.LoaderConfig) *PDFLoader {
	// pdfcpu would otherwise create its config directory under $HOME.
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFLoader{
		tempDir:  cfg.TempDir,
		maxBytes: cfg.MaxUploadBytes,
		logger:   slog.Default(),
	}
}

func (l *PDFLoader) Load(ctx context.Context, src types.Source) ([]types.Page, error) {
	if src.Reader == nil {
		return nil, types.NewValidationError(map[string]string{"Reader": "pdf source has no content"})
	}

	path, cleanup, err := spool(l.tempDir, "upload-*.pdf", src.Reader, l.maxBytes)
	if err != nil {
		return nil, types.NewError(types.ErrLoad, "load pdf", err)
	}
	defer cleanup()

	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrLoad, "load pdf", err)
	}

	start := time.Now()
	total, err := inspectPDF(path)
	if err != nil {
		return nil, types.NewError(types.ErrLoad, "load pdf", err)
	}

	pages, err := extractPages(path, total, sourceName(src))
	if err != nil {
		return nil, types.NewError(types.ErrLoad, "load pdf", err)
	}

	l.logger.Info("pdf loaded", "name", src.Name, "pages", total, "text_pages", len(pages), "took", time.Since(start))
	return pages, nil
}

// inspectPDF rejects files pdfcpu cannot parse or that are encrypted and returns
// the page count.
func inspectPDF(path string) (int, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("unreadable pdf: %w", err)
	}
	if pdfCtx.Encrypt != nil {
		return 0, errors.New("encrypted pdf is not supported")
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	return pdfCtx.PageCount, nil
}

func extractPages(path string, total int, name string) (pages []types.Page, err error) {
	// ledongthuc/pdf panics on some malformed font programs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("extract text: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := reader.NumPage()
	if total == 0 {
		total = n
	}
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, types.Page{
			Text: text,
			Metadata: map[string]string{
				types.MetaSource:        string(types.SourcePDF),
				types.MetaSourceLocator: name,
				types.MetaPage:          strconv.Itoa(i),
				types.MetaTotalPages:    strconv.Itoa(total),
			},
		})
	}
	return pages, nil
}

func sourceName(src types.Source) string {
	if src.Name != "" {
		return filepath.Base(src.Name)
	}
	return "upload.pdf"
}

// DisplayName turns a file name into a document title.
func DisplayName(fileName string) string {
	name := filepath.Base(fileName)
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name = name[:len(name)-4]
	}
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}
