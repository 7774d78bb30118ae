package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"docrag/types"

	"github.com/PuerkitoBio/goquery"
)

// URLLoader fetches a web page and keeps its readable text.
type URLLoader struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewURLLoader(cfg types.LoaderConfig) *URLLoader {
	return &URLLoader{
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		maxBytes: cfg.MaxPageBytes,
		logger:   slog.Default(),
	}
}

func (l *URLLoader) Load(ctx context.Context, src types.Source) ([]types.Page, error) {
	start := time.Now()
	body, contentType, err := l.fetch(ctx, src.URL)
	if err != nil {
		return nil, types.NewError(types.ErrLoad, "load url", err)
	}

	var text, title string
	switch contentType {
	case "text/plain":
		text = cleanWhitespace(string(body))
		title = firstLine(text)
	default:
		text, title, err = readableText(body)
		if err != nil {
			return nil, types.NewError(types.ErrLoad, "load url", err)
		}
	}

	meta := map[string]string{
		types.MetaSource:        string(types.SourceLink),
		types.MetaSourceLocator: src.URL,
	}
	if title != "" {
		meta[types.MetaTitle] = title
	}
	l.logger.Info("url loaded", "url", src.URL, "bytes", len(body), "chars", len(text), "took", time.Since(start))
	return []types.Page{{Text: text, Metadata: meta}}, nil
}

func (l *URLLoader) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	contentType := "text/html"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: bad content-type %q", url, ct)
		}
		contentType = mt
	}
	switch contentType {
	case "text/html", "application/xhtml+xml", "text/plain":
	default:
		return nil, "", fmt.Errorf("fetch %s: unsupported content-type %s", url, contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, "", fmt.Errorf("fetch %s: page exceeds %d bytes", url, l.maxBytes)
	}
	return body, contentType, nil
}

const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,pre,blockquote,td,th"

// readableText keeps the text of block elements inside main/article (or body),
// one block per line.
func readableText(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script,style,noscript,nav,footer,header,form,svg").Remove()

	root := doc.Find("main, article")
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// nested blocks are emitted by their innermost element
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		parts = append(parts, strings.Join(strings.Fields(root.Text()), " "))
	}
	return cleanWhitespace(strings.Join(parts, "\n\n")), title, nil
}

var blankRun = regexp.MustCompile(`[ \t]*\n[ \t\n]*\n`)

func cleanWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func firstLine(s string) string {
	line := strings.SplitN(s, "\n", 2)[0]
	if r := []rune(line); len(r) > 120 {
		line = string(r[:120])
	}
	return strings.TrimSpace(line)
}
