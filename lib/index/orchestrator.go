package index

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

var _ harborseal.IndexOrchestrator = (*Orchestrator)(nil)

// Orchestrator maps collection ids to pgvector-backed index instances.
type Orchestrator struct {
	db       *sql.DB
	embedder embeddings.Embedder
	logger   *zap.Logger
}

func NewOrchestrator(db *sql.DB, embedder embeddings.Embedder, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}
}

// Build embeds every unit and stores the rows under collectionID in one
// transaction. It does not clear prior rows for the collection; callers must
// Delete first when rebuilding under the same id.
func (o *Orchestrator) Build(ctx context.Context, collectionID string, units []harborseal.ContentUnit) error {
	texts := make([]string, len(units))
	for i, unit := range units {
		texts[i] = unit.Text
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d units for collection %s: %w: %v", len(units), collectionID, harborseal.ErrProvider, err)
	}
	if len(vectors) != len(units) {
		return fmt.Errorf("collection %s: %w: embedder returned %d vectors for %d units", collectionID, harborseal.ErrProvider, len(vectors), len(units))
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("collection %s: %w: %v", collectionID, harborseal.ErrProvider, err)
	}
	for i, unit := range units {
		_, err := sq.StatementBuilder.
			PlaceholderFormat(sq.Dollar).
			Insert("content_embeddings").
			Columns("collection_id", "chunk_index", "content", "page_number", "image_index", "embedding").
			Values(
				collectionID,
				i,
				unit.Text,
				unit.PageNumber,
				unit.ImageIndex,
				pgvector.NewVector(vectors[i]),
			).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store unit %d of collection %s: %w: %v", i, collectionID, harborseal.ErrProvider, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit collection %s: %w: %v", collectionID, harborseal.ErrProvider, err)
	}
	o.logger.Info("indexed collection",
		zap.String("collection", collectionID),
		zap.Int("units", len(units)))
	return nil
}

// Load returns a search handle for an existing collection.
func (o *Orchestrator) Load(ctx context.Context, collectionID string) (harborseal.IndexHandle, error) {
	var count int
	err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("count(*)").
		From("content_embeddings").
		Where(sq.Eq{"collection_id": collectionID}).
		RunWith(o.db).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w: %v", collectionID, harborseal.ErrProvider, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("collection %s: %w", collectionID, harborseal.ErrIndexNotFound)
	}
	return &handle{orchestrator: o, collectionID: collectionID}, nil
}

// Delete removes every row for the collection. The single statement removes
// all or nothing, leaving no partially deleted collection behind.
func (o *Orchestrator) Delete(ctx context.Context, collectionID string) error {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete("content_embeddings").
		Where(sq.Eq{"collection_id": collectionID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := o.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete collection %s: %w: %v", collectionID, harborseal.ErrProvider, err)
	}
	o.logger.Info("deleted collection", zap.String("collection", collectionID))
	return nil
}

var _ harborseal.IndexHandle = (*handle)(nil)

// handle searches one collection by cosine distance.
type handle struct {
	orchestrator *Orchestrator
	collectionID string
}

func (h *handle) Search(ctx context.Context, query string, topK int) ([]harborseal.Retrieved, error) {
	if topK <= 0 {
		topK = 5
	}
	queryVector, err := h.orchestrator.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query for collection %s: %w: %v", h.collectionID, harborseal.ErrProvider, err)
	}

	rows, err := h.orchestrator.db.QueryContext(ctx,
		"SELECT content, page_number, image_index FROM content_embeddings WHERE collection_id = $1 ORDER BY embedding <=> $2 LIMIT $3",
		h.collectionID, pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w: %v", h.collectionID, harborseal.ErrProvider, err)
	}
	defer rows.Close()

	var results []harborseal.Retrieved
	for rows.Next() {
		var res harborseal.Retrieved
		if err := rows.Scan(&res.Text, &res.PageNumber, &res.ImageIndex); err != nil {
			return nil, fmt.Errorf("scan result for collection %s: %w: %v", h.collectionID, harborseal.ErrProvider, err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
