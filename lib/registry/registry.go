package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

// OverwritePolicy decides whether an already-ingested document should be
// re-indexed. The decision belongs to the caller: interactive entry points
// prompt, programmatic ones overwrite unconditionally.
type OverwritePolicy func(existing *harborseal.Document) bool

// Decline never re-indexes.
func Decline(*harborseal.Document) bool { return false }

// Always re-indexes without asking.
func Always(*harborseal.Document) bool { return true }

// Registry owns document identity and the dedup/overwrite lifecycle, tying
// each record to its index collection.
type Registry struct {
	documents harborseal.DocumentRepository
	segmenter harborseal.Segmenter
	indexes   harborseal.IndexOrchestrator
	logger    *zap.Logger
}

func NewRegistry(
	documents harborseal.DocumentRepository,
	segmenter harborseal.Segmenter,
	indexes harborseal.IndexOrchestrator,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		documents: documents,
		segmenter: segmenter,
		indexes:   indexes,
		logger:    logger,
	}
}

// Ingest registers the PDF at path, builds its vector index, and returns the
// document identity with the outcome. The dedup key is the absolute
// normalized path. Failures leave record and index both absent.
func (r *Registry) Ingest(ctx context.Context, path string, policy OverwritePolicy) (*harborseal.IngestResult, error) {
	absPath, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	existing, err := r.documents.GetByPath(ctx, absPath)
	if err != nil && !errors.Is(err, harborseal.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", absPath, err)
	}

	if existing != nil {
		if !policy(existing) {
			r.logger.Info("document already indexed",
				zap.String("path", absPath),
				zap.String("id", existing.ID))
			return &harborseal.IngestResult{Document: existing, Status: harborseal.StatusAlreadyExists}, nil
		}
		return r.overwrite(ctx, absPath, existing)
	}
	return r.create(ctx, absPath)
}

func (r *Registry) create(ctx context.Context, absPath string) (*harborseal.IngestResult, error) {
	collectionID := uuid.New().String()

	if err := r.buildIndex(ctx, absPath, collectionID); err != nil {
		return nil, err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		r.rollbackIndex(ctx, collectionID)
		return nil, r.ingestionError(absPath, err)
	}
	document := &harborseal.Document{
		ID:           uuid.New().String(),
		Name:         filepath.Base(absPath),
		Path:         absPath,
		Size:         info.Size(),
		Type:         "pdf",
		CollectionID: collectionID,
	}
	if err := r.documents.Create(ctx, document); err != nil {
		r.rollbackIndex(ctx, collectionID)
		return nil, r.ingestionError(absPath, err)
	}

	r.logger.Info("ingested document",
		zap.String("path", absPath),
		zap.String("id", document.ID),
		zap.String("collection", collectionID))
	return &harborseal.IngestResult{Document: document, Status: harborseal.StatusCreated}, nil
}

// overwrite destroys and rebuilds the index under the existing collection id,
// keeping document identity stable. A failure mid-rebuild removes the record
// as well, so the record and the collection never disagree.
func (r *Registry) overwrite(ctx context.Context, absPath string, existing *harborseal.Document) (*harborseal.IngestResult, error) {
	r.logger.Info("re-indexing document",
		zap.String("path", absPath),
		zap.String("id", existing.ID))

	if err := r.indexes.Delete(ctx, existing.CollectionID); err != nil {
		r.segmenter.Cleanup()
		return nil, r.ingestionError(absPath, err)
	}
	if err := r.buildIndex(ctx, absPath, existing.CollectionID); err != nil {
		r.dropRecord(ctx, existing)
		return nil, err
	}

	info, err := os.Stat(absPath)
	if err == nil {
		err = r.documents.UpdateStats(ctx, existing.ID, info.Size(), "pdf")
	}
	var updated *harborseal.Document
	if err == nil {
		// Re-fetch so the returned record carries the refreshed stats and
		// the db-assigned updated timestamp.
		updated, err = r.documents.Get(ctx, existing.ID)
	}
	if err != nil {
		r.rollbackIndex(ctx, existing.CollectionID)
		r.dropRecord(ctx, existing)
		return nil, r.ingestionError(absPath, err)
	}

	return &harborseal.IngestResult{Document: updated, Status: harborseal.StatusOverwritten}, nil
}

func (r *Registry) buildIndex(ctx context.Context, absPath, collectionID string) error {
	units, err := r.segmenter.Segment(ctx, absPath)
	if err != nil {
		r.segmenter.Cleanup()
		if errors.Is(err, harborseal.ErrInvalidInput) {
			return err
		}
		return r.ingestionError(absPath, err)
	}
	if err := r.indexes.Build(ctx, collectionID, units); err != nil {
		r.segmenter.Cleanup()
		r.rollbackIndex(ctx, collectionID)
		return r.ingestionError(absPath, err)
	}
	return nil
}

// List returns every ingested document, newest first.
func (r *Registry) List(ctx context.Context) ([]*harborseal.Document, error) {
	return r.documents.List(ctx)
}

// Get returns one document by id.
func (r *Registry) Get(ctx context.Context, id string) (*harborseal.Document, error) {
	return r.documents.Get(ctx, id)
}

// Remove deletes a document's index collection and its record together. The
// original PDF on disk is untouched.
func (r *Registry) Remove(ctx context.Context, id string) error {
	document, err := r.documents.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.indexes.Delete(ctx, document.CollectionID); err != nil {
		return fmt.Errorf("remove document %s: %w", id, err)
	}
	if err := r.documents.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove document %s: %w", id, err)
	}
	r.logger.Info("removed document",
		zap.String("id", id),
		zap.String("collection", document.CollectionID))
	return nil
}

// rollbackIndex is best effort: a failed cleanup is logged, not surfaced,
// because the original error is what the caller needs.
func (r *Registry) rollbackIndex(ctx context.Context, collectionID string) {
	if err := r.indexes.Delete(ctx, collectionID); err != nil {
		r.logger.Error("failed to roll back index collection",
			zap.String("collection", collectionID),
			zap.Error(err))
	}
}

func (r *Registry) dropRecord(ctx context.Context, document *harborseal.Document) {
	if err := r.documents.Delete(ctx, document.ID); err != nil {
		r.logger.Error("failed to roll back document record",
			zap.String("id", document.ID),
			zap.Error(err))
	}
}

func (r *Registry) ingestionError(path string, err error) error {
	return fmt.Errorf("ingest %s: %w: %v", path, harborseal.ErrIngestion, err)
}

func normalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path: %w", harborseal.ErrInvalidInput)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("normalize %s: %w: %v", path, harborseal.ErrInvalidInput, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("file %s: %w: %v", absPath, harborseal.ErrInvalidInput, err)
	}
	if info.IsDir() || strings.ToLower(filepath.Ext(absPath)) != ".pdf" {
		return "", fmt.Errorf("file %s: only PDF files are supported: %w", absPath, harborseal.ErrInvalidInput)
	}
	return absPath, nil
}
