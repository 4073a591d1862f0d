package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/amitsx/ragbot/internal/apperr"
	"github.com/amitsx/ragbot/internal/models"
	"github.com/amitsx/ragbot/internal/types"
)

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
}

// VectorStore persists chunks with their embeddings in Postgres/pgvector and
// answers cosine-similarity queries over them.
type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder types.Embedder

	// doc_hash -> stored chunk count, rebuilt from the table at startup.
	// Existence checks never touch the vector index query path.
	mu     sync.RWMutex
	hashes map[string]int
}

func NewVectorStoreWithConfig(config VectorStoreConfig, embedder types.Embedder) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &VectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
		hashes:   make(map[string]int),
	}

	if err := vs.initialize(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return vs.reloadHashes(ctx)
}

func (vs *VectorStore) reloadHashes(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		SELECT metadata->>'doc_hash', COUNT(*)
		FROM %s
		WHERE metadata->>'doc_hash' IS NOT NULL
		GROUP BY 1`, vs.config.TableName)

	rows, err := vs.pool.Query(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to load document hashes: %v", err)
	}
	defer rows.Close()

	hashes := make(map[string]int)
	for rows.Next() {
		var hash string
		var count int
		if err := rows.Scan(&hash, &count); err != nil {
			return fmt.Errorf("failed to scan hash row: %v", err)
		}
		hashes[hash] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load document hashes: %v", err)
	}

	vs.mu.Lock()
	vs.hashes = hashes
	vs.mu.Unlock()
	return nil
}

// DocumentExists reports whether any stored chunk carries docHash. Uploading
// byte-identical content twice is a no-op because of this check.
func (vs *VectorStore) DocumentExists(docHash string) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.hashes[docHash] > 0
}

// AddDocuments persists one chunk per text in a single transaction. Missing
// ids are generated, missing embeddings computed, and a single metadata map
// is replicated across all texts.
func (vs *VectorStore) AddDocuments(ctx context.Context, ids, texts []string, embeddings [][]float32, metadatas []map[string]any) ([]string, error) {
	if len(texts) == 0 {
		return nil, &apperr.ValidationError{Message: "no texts to add"}
	}

	if ids == nil {
		ids = make([]string, len(texts))
		for i := range ids {
			ids[i] = "doc_" + uuid.NewString()
		}
	}

	if embeddings == nil {
		var err error
		embeddings, err = vs.embedder.EmbedMany(ctx, texts)
		if err != nil {
			return nil, err
		}
	}

	switch len(metadatas) {
	case 0:
		metadatas = make([]map[string]any, len(texts))
		for i := range metadatas {
			metadatas[i] = map[string]any{}
		}
	case 1:
		if len(texts) > 1 {
			shared := metadatas[0]
			metadatas = make([]map[string]any, len(texts))
			for i := range metadatas {
				metadatas[i] = shared
			}
		}
	}

	if len(ids) != len(texts) || len(embeddings) != len(texts) || len(metadatas) != len(texts) {
		return nil, &apperr.ValidationError{
			Message: fmt.Sprintf("length mismatch: ids(%d), texts(%d), embeddings(%d), metadatas(%d)",
				len(ids), len(texts), len(embeddings), len(metadatas)),
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, &apperr.StorageError{Op: "begin add documents", Err: err}
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for i := range texts {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return nil, &apperr.StorageError{Op: "encode metadata", Err: err}
		}

		_, err = tx.Exec(ctx, stmt, ids[i], texts[i], pgvector.NewVector(embeddings[i]), meta)
		if err != nil {
			return nil, &apperr.StorageError{Op: "insert chunk", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &apperr.StorageError{Op: "commit add documents", Err: err}
	}

	vs.mu.Lock()
	for _, meta := range metadatas {
		if hash, ok := meta["doc_hash"].(string); ok && hash != "" {
			vs.hashes[hash]++
		}
	}
	vs.mu.Unlock()

	return ids, nil
}

// SimilaritySearch embeds query and returns the topK nearest chunks, best
// match first. An unreachable or empty index yields an empty result, not an
// error; the chat turn then simply runs without retrieved context.
func (vs *VectorStore) SimilaritySearch(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = vs.config.SearchLimit
	}

	embedding, err := vs.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
		SELECT id, content, metadata
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, stmt, pgvector.NewVector(embedding), topK)
	if err != nil {
		return []models.SearchResult{}, nil
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var res models.SearchResult
		var meta []byte
		if err := rows.Scan(&res.ID, &res.Content, &meta); err != nil {
			return []models.SearchResult{}, nil
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &res.Metadata)
		}
		results = append(results, res)
	}

	return results, nil
}

// Get returns the chunk with the given id, or nil when absent.
func (vs *VectorStore) Get(ctx context.Context, id string) (*models.SearchResult, error) {
	stmt := fmt.Sprintf("SELECT id, content, metadata FROM %s WHERE id = $1", vs.config.TableName)

	var res models.SearchResult
	var meta []byte
	err := vs.pool.QueryRow(ctx, stmt, id).Scan(&res.ID, &res.Content, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.StorageError{Op: "get chunk", Err: err}
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &res.Metadata)
	}
	return &res, nil
}

// Delete removes a single chunk, reporting whether it existed.
func (vs *VectorStore) Delete(ctx context.Context, id string) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = $1 RETURNING metadata->>'doc_hash'", vs.config.TableName)

	var hash *string
	err := vs.pool.QueryRow(ctx, stmt, id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &apperr.StorageError{Op: "delete chunk", Err: err}
	}

	if hash != nil && *hash != "" {
		vs.mu.Lock()
		if vs.hashes[*hash] <= 1 {
			delete(vs.hashes, *hash)
		} else {
			vs.hashes[*hash]--
		}
		vs.mu.Unlock()
	}
	return true, nil
}

// ClearAll removes every stored chunk and verifies the table really is empty.
// Residual rows leave stale vectors in the index, so in that case the table
// is dropped and recreated to force a clean state.
func (vs *VectorStore) ClearAll(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", vs.config.TableName)); err != nil {
		return &apperr.StorageError{Op: "clear chunks", Err: err}
	}

	var remaining int
	countStmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", vs.config.TableName)
	if err := vs.pool.QueryRow(ctx, countStmt).Scan(&remaining); err != nil {
		return &apperr.StorageError{Op: "verify clear", Err: err}
	}

	if remaining > 0 {
		if _, err := vs.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.config.TableName)); err != nil {
			return &apperr.StorageError{Op: "drop chunk table", Err: err}
		}
		if err := vs.initialize(ctx); err != nil {
			return &apperr.StorageError{Op: "recreate chunk table", Err: err}
		}
	}

	vs.mu.Lock()
	vs.hashes = make(map[string]int)
	vs.mu.Unlock()
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
