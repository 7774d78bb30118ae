package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docrag/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type DocumentStore interface {
	CreateDocument(context.Context, *types.Document) error
	GetDocument(context.Context, uuid.UUID) (*types.Document, error)
	ListDocuments(ctx context.Context, owner string) ([]types.Document, error)
	DeleteDocument(context.Context, uuid.UUID) error
}

// VectorStore holds chunk embeddings. Every lookup filters on the document_id
// stored inside the chunk metadata.
type VectorStore interface {
	UpsertChunks(context.Context, []types.Chunk) error
	SimilaritySearch(ctx context.Context, vec []float32, documentID string, k int) ([]types.Chunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	ScanChunks(ctx context.Context, documentID string, limit int) ([]types.Chunk, error)
}

type ChatStore interface {
	AppendTurn(context.Context, types.ChatTurn) error
}

type DBStorer interface {
	DocumentStore
	VectorStore
	ChatStore
	Init(context.Context) error
	Ping(context.Context) error
	Close() error
}

type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dimension int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:      pool,
		dimension: dimension,
		logger:    slog.Default(),
	}, nil
}

func (p *PostgresStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	query := `INSERT INTO documents (id, name, content, owner, source_kind, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := p.pool.Exec(ctx, query,
		doc.ID,
		doc.Name,
		doc.Content,
		doc.Owner,
		string(doc.SourceKind),
		doc.Source,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, content, owner, source_kind, source, created_at FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, owner string) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, '' AS content, owner, source_kind, source, created_at
		FROM documents WHERE owner = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []types.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (*types.Document, error) {
	doc := &types.Document{}
	var kind string
	if err := row.Scan(
		&doc.ID,
		&doc.Name,
		&doc.Content,
		&doc.Owner,
		&kind,
		&doc.Source,
		&doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.SourceKind = types.SourceKind(kind)
	return doc, nil
}

// DeleteDocument removes the document; chunks and chat history go with it
// through the foreign keys.
func (p *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UpsertChunks writes all chunks in one transaction. Nothing is written when any
// row fails.
func (p *PostgresStore) UpsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if bad := mismatchedDimensions(chunks, p.dimension); len(bad) > 0 {
		return &types.UpsertError{Failed: bad, Err: fmt.Errorf("embedding dimension must be %d", p.dimension)}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &types.UpsertError{Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback(ctx)

	query := `
	INSERT INTO chunks (id, document_id, chunk_index, content, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		chunk_index = EXCLUDED.chunk_index,
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding
	`
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(query, c.ID, c.DocumentID, c.Index, c.Content, c.Metadata, pgvector.NewVector(c.Embedding))
	}

	br := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return &types.UpsertError{Failed: []int{i}, Err: err}
		}
	}
	if err := br.Close(); err != nil {
		return &types.UpsertError{Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &types.UpsertError{Err: fmt.Errorf("commit: %w", err)}
	}

	p.logger.Debug("chunks upserted", "count", len(chunks), "document_id", chunks[0].Metadata.DocumentID)
	return nil
}

func mismatchedDimensions(chunks []types.Chunk, dim int) []int {
	var bad []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 || (dim > 0 && len(c.Embedding) != dim) {
			bad = append(bad, i)
		}
	}
	return bad
}

func (p *PostgresStore) SimilaritySearch(ctx context.Context, vec []float32, documentID string, k int) ([]types.Chunk, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	query := `
		SELECT id, document_id, chunk_index, content, metadata, similarity
		FROM match_by_document($1, $2, $3)
	`
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vec), documentID, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	chunks := []types.Chunk{}
	for rows.Next() {
		var chunk types.Chunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Index,
			&chunk.Content,
			&chunk.Metadata,
			&chunk.Similarity)
		if err != nil {
			return nil, fmt.Errorf("similarity search: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	p.logger.Debug("similarity search", "document_id", documentID, "k", k, "found", len(chunks))
	return chunks, nil
}

func (p *PostgresStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE metadata->>'document_id' = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) ScanChunks(ctx context.Context, documentID string, limit int) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, metadata
		FROM chunks
		WHERE metadata->>'document_id' = $1
		ORDER BY chunk_index
		LIMIT $2`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	chunks := []types.Chunk{}
	for rows.Next() {
		var chunk types.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Content, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("scan chunks: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) AppendTurn(ctx context.Context, turn types.ChatTurn) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_history (document_id, owner, user_message, assistant_message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		turn.DocumentID, turn.Owner, turn.UserMessage, turn.AssistantMessage, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append chat turn: %w", err)
	}
	return nil
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	// hnsw indexes are limited to 2000 dimensions
	index := ""
	if p.dimension <= 2000 {
		index = `CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);`
	}

	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		owner TEXT NOT NULL,
		source_kind TEXT NOT NULL CHECK (source_kind IN ('pdf','link')),
		source TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner, created_at DESC);

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL,
		embedding vector(%[1]d) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_metadata_document_id ON chunks ((metadata->>'document_id'));
	%[2]s

	CREATE TABLE IF NOT EXISTS chat_history (
		id BIGSERIAL PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		user_message TEXT NOT NULL,
		assistant_message TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_chat_history_document_id ON chat_history(document_id);

	CREATE OR REPLACE FUNCTION match_by_document(
		query_embedding vector(%[1]d),
		filter_document_id TEXT,
		match_count INT
	) RETURNS TABLE (
		id UUID,
		document_id UUID,
		chunk_index INT,
		content TEXT,
		metadata JSONB,
		similarity FLOAT8
	) LANGUAGE sql STABLE AS $$
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata,
		       1 - (c.embedding <=> query_embedding) AS similarity
		FROM chunks c
		WHERE c.metadata->>'document_id' = filter_document_id
		ORDER BY c.embedding <=> query_embedding
		LIMIT match_count
	$$;
	`, p.dimension, index)

	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	if err := p.createRagTables(ctx); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	p.logger.Info("database schema ready", "dimension", p.dimension)
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}

var (
	_ DBStorer = (*PostgresStore)(nil)
	_ DBStorer = (*MemoryStore)(nil)
)
