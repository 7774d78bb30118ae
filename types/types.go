package types

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SourceKind string

const (
	SourcePDF  SourceKind = "pdf"
	SourceLink SourceKind = "link"
)

// Metadata keys carried by pages and chunks.
const (
	MetaDocumentID    = "document_id"
	MetaSource        = "source"
	MetaSourceLocator = "source_locator"
	MetaPage          = "page"
	MetaTotalPages    = "total_pages"
	MetaTitle         = "title"
	MetaChunkIndex    = "chunk_index"
)

// Source is one upload handed to the ingestion pipeline. Reader is used for PDFs,
// URL for links.
type Source struct {
	Kind   SourceKind
	Name   string
	URL    string
	Reader io.Reader
	Owner  string
}

// Page is a unit of extracted text with the loader's metadata, one per PDF page
// or one per fetched web page.
type Page struct {
	Text     string
	Metadata map[string]string
}

type Document struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Content    string     `json:"-"`
	Owner      string     `json:"owner"`
	SourceKind SourceKind `json:"source_kind"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DocumentInfo is the listing view of a document.
type DocumentInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceKind SourceKind `json:"source_kind"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (d Document) Info() DocumentInfo {
	return DocumentInfo{
		ID:         d.ID.String(),
		Name:       d.Name,
		SourceKind: d.SourceKind,
		CreatedAt:  d.CreatedAt,
	}
}

// ChunkMetadata has exactly one required field. Everything a loader adds goes to
// Extra. It is stored as one flat JSON object so that document_id is reachable
// with a single ->> lookup.
type ChunkMetadata struct {
	DocumentID string
	Extra      map[string]string
}

// NewChunkMetadata is the only write-path constructor; it fixes the canonical
// string form of the document id.
func NewChunkMetadata(docID uuid.UUID, extra map[string]string) ChunkMetadata {
	m := ChunkMetadata{
		DocumentID: docID.String(),
		Extra:      make(map[string]string, len(extra)),
	}
	for k, v := range extra {
		if k == MetaDocumentID {
			continue
		}
		m.Extra[k] = v
	}
	return m
}

func (m ChunkMetadata) Get(key string) string {
	if key == MetaDocumentID {
		return m.DocumentID
	}
	return m.Extra[key]
}

func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(m.Extra)+1)
	for k, v := range m.Extra {
		flat[k] = v
	}
	flat[MetaDocumentID] = m.DocumentID
	return json.Marshal(flat)
}

func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	m.Extra = make(map[string]string, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		if k == MetaDocumentID {
			m.DocumentID = s
			continue
		}
		m.Extra[k] = s
	}
	return nil
}

type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Content    string
	Embedding  []float32
	Metadata   ChunkMetadata
	Similarity float64
}

type ChatTurn struct {
	DocumentID       uuid.UUID
	Owner            string
	UserMessage      string
	AssistantMessage string
	CreatedAt        time.Time
}

// CanonicalDocumentID normalizes an incoming id to the form used at write time.
// Ids that are not UUIDs are passed through trimmed; they simply match nothing.
func CanonicalDocumentID(id string) string {
	id = strings.TrimSpace(id)
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}

// SourceRef points at a chunk an answer was grounded on.
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	Index      int     `json:"index"`
	Page       string  `json:"page,omitempty"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}
