// Package chunker splits extracted page text into overlapping windows.
//
// Splitting is recursive: text is cut at the coarsest separator present
// (paragraph, line, sentence, word, character) and pieces that still exceed the
// chunk size are cut again with the next finer separator. Adjacent pieces are then
// merged greedily up to the chunk size, carrying up to overlap characters of the
// previous chunk into the next one. Sizes are measured in runes.
package chunker

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"docrag/types"

	"github.com/google/uuid"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// SplitText returns the ordered chunk texts of text.
func (s *Splitter) SplitText(text string) []string {
	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

// SplitPages chunks every page of a document and stamps each chunk with the
// document id, its position and the page metadata.
func (s *Splitter) SplitPages(docID uuid.UUID, pages []types.Page) []types.Chunk {
	var chunks []types.Chunk
	for _, page := range pages {
		for _, text := range s.SplitText(page.Text) {
			meta := types.NewChunkMetadata(docID, page.Metadata)
			meta.Extra[types.MetaChunkIndex] = strconv.Itoa(len(chunks))
			chunks = append(chunks, types.Chunk{
				ID:         uuid.New(),
				DocumentID: docID,
				Index:      len(chunks),
				Content:    text,
				Metadata:   meta,
			})
		}
	}
	return chunks
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	// Separators stay attached to the piece they end.
	parts := strings.Split(text, separator)
	if separator != "" {
		parts = strings.SplitAfter(text, separator)
	}
	var pieces []string
	for _, p := range parts {
		if p != "" {
			pieces = append(pieces, p)
		}
	}

	var out, good []string
	for _, p := range pieces {
		if runeLen(p) < s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, finer)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge concatenates consecutive pieces into chunks of at most chunkSize runes,
// keeping a tail of at most overlap runes between chunks.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := joinTrim(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total > 0 && total+n > s.chunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		total += n
		current = append(current, p)
	}
	if doc := joinTrim(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func joinTrim(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, ""))
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
