package store

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"docrag/types"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. It mirrors the Postgres schema's
// foreign keys and cascades so tests see the same behaviour.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	documents map[uuid.UUID]types.Document
	chunks    map[uuid.UUID]types.Chunk
	order     []uuid.UUID
	turns     []types.ChatTurn
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		documents: make(map[uuid.UUID]types.Document),
		chunks:    make(map[uuid.UUID]types.Chunk),
	}
}

func (m *MemoryStore) Init(context.Context) error { return nil }
func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error                { return nil }

func (m *MemoryStore) CreateDocument(_ context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("insert document %s: duplicate id", doc.ID)
	}
	m.documents[doc.ID] = *doc
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &doc, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, owner string) ([]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := []types.Document{}
	for _, doc := range m.documents {
		if doc.Owner == owner {
			doc.Content = ""
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID.String() < docs[j].ID.String()
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return types.ErrNotFound
	}
	delete(m.documents, id)

	m.order = slices.DeleteFunc(m.order, func(cid uuid.UUID) bool {
		if m.chunks[cid].DocumentID == id {
			delete(m.chunks, cid)
			return true
		}
		return false
	})
	m.turns = slices.DeleteFunc(m.turns, func(t types.ChatTurn) bool { return t.DocumentID == id })
	return nil
}

func (m *MemoryStore) UpsertChunks(_ context.Context, chunks []types.Chunk) error {
	if bad := mismatchedDimensions(chunks, m.dimension); len(bad) > 0 {
		return &types.UpsertError{Failed: bad, Err: fmt.Errorf("embedding dimension must be %d", m.dimension)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []int
	for i, c := range chunks {
		if _, ok := m.documents[c.DocumentID]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return &types.UpsertError{Failed: missing, Err: fmt.Errorf("document does not exist")}
	}

	for _, c := range chunks {
		if _, ok := m.chunks[c.ID]; !ok {
			m.order = append(m.order, c.ID)
		}
		m.chunks[c.ID] = cloneChunk(c)
	}
	return nil
}

func (m *MemoryStore) SimilaritySearch(_ context.Context, vec []float32, documentID string, k int) ([]types.Chunk, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := []types.Chunk{}
	for _, id := range m.order {
		c := m.chunks[id]
		if c.Metadata.DocumentID != documentID {
			continue
		}
		if len(c.Embedding) != len(vec) {
			return nil, fmt.Errorf("similarity search: query has %d dimensions, stored %d", len(vec), len(c.Embedding))
		}
		c = cloneChunk(c)
		c.Similarity = cosine(vec, c.Embedding)
		found = append(found, c)
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Similarity > found[j].Similarity })
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}

func (m *MemoryStore) CountChunks(_ context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.chunks {
		if c.Metadata.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ScanChunks(_ context.Context, documentID string, limit int) ([]types.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := []types.Chunk{}
	for _, id := range m.order {
		c := m.chunks[id]
		if c.Metadata.DocumentID == documentID {
			found = append(found, cloneChunk(c))
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Index < found[j].Index })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, turn types.ChatTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[turn.DocumentID]; !ok {
		return fmt.Errorf("append chat turn: document %s does not exist", turn.DocumentID)
	}
	m.turns = append(m.turns, turn)
	return nil
}

// Turns returns the chat history recorded for a document, oldest first.
func (m *MemoryStore) Turns(documentID uuid.UUID) []types.ChatTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.ChatTurn
	for _, t := range m.turns {
		if t.DocumentID == documentID {
			out = append(out, t)
		}
	}
	return out
}

func cloneChunk(c types.Chunk) types.Chunk {
	c.Embedding = slices.Clone(c.Embedding)
	c.Metadata.Extra = maps.Clone(c.Metadata.Extra)
	return c
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
