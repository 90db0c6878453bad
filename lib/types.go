package harborseal

import (
	"context"
	"time"
)

// IngestStatus is the closed set of outcomes for a Registry ingest call.
type IngestStatus int

const (
	StatusCreated IngestStatus = iota
	StatusAlreadyExists
	StatusOverwritten
)

func (s IngestStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusOverwritten:
		return "overwritten"
	}
	return "unknown"
}

// Document is the record of one ingested PDF. Path is unique across all
// records, CollectionID ties the document to exactly one vector index.
type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	CollectionID string    `json:"collection_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContentUnit is one chunk of extracted content fed to index construction.
// ImageIndex is zero for page-text units and 1-based for image-analysis units.
type ContentUnit struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	Path       string `json:"path"`
	ImageIndex int    `json:"image_index,omitempty"`
}

// ChatTurn is one role-tagged message in a document's conversation.
type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// IngestResult reports the identity and outcome of an ingest call.
type IngestResult struct {
	Document *Document    `json:"document"`
	Status   IngestStatus `json:"status"`
}

// Answer is the result of one conversational query. Cached is always false
// for now; it is part of the contract so callers can short-circuit later.
type Answer struct {
	Answer    string    `json:"answer"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
}

// Retrieved is one similarity match returned from a loaded index.
type Retrieved struct {
	Text       string
	PageNumber int
	ImageIndex int
}

// Segmenter extracts uniform content units from a PDF on disk.
type Segmenter interface {
	Segment(ctx context.Context, path string) ([]ContentUnit, error)
	Cleanup()
}

// IndexHandle is a loaded vector index scoped to one collection.
type IndexHandle interface {
	Search(ctx context.Context, query string, topK int) ([]Retrieved, error)
}

// IndexOrchestrator maps collection ids to vector index instances. Build is
// not idempotent: callers must Delete an existing collection before building
// again under the same id.
type IndexOrchestrator interface {
	Build(ctx context.Context, collectionID string, units []ContentUnit) error
	Load(ctx context.Context, collectionID string) (IndexHandle, error)
	Delete(ctx context.Context, collectionID string) error
}

// DocumentRepository persists Document records.
type DocumentRepository interface {
	Create(ctx context.Context, d *Document) error
	GetByPath(ctx context.Context, path string) (*Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]*Document, error)
	UpdateStats(ctx context.Context, id string, size int64, fileType string) error
	Delete(ctx context.Context, id string) error
}
