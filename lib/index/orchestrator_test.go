package index

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

type fakeEmbedder struct {
	dim      int
	docErr   error
	queryErr error
	short    bool
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.docErr != nil {
		return nil, f.docErr
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, f.dim)
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return make([]float32, f.dim), nil
}

func newMockOrchestrator(t *testing.T, embedder *fakeEmbedder) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOrchestrator(db, embedder, zap.NewNop()), mock
}

func TestBuildStoresAllUnitsInOneTx(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO content_embeddings").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO content_embeddings").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	units := []harborseal.ContentUnit{
		{Text: "page one", PageNumber: 1},
		{Text: "chart of revenue", PageNumber: 2, ImageIndex: 1},
	}
	err := o.Build(context.Background(), "coll-1", units)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildRollsBackOnInsertFailure(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO content_embeddings").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := o.Build(context.Background(), "coll-1", []harborseal.ContentUnit{{Text: "x", PageNumber: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrProvider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildEmbedderFailure(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3, docErr: errors.New("model offline")})

	err := o.Build(context.Background(), "coll-1", []harborseal.ContentUnit{{Text: "x", PageNumber: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrProvider)
	assert.NoError(t, mock.ExpectationsWereMet(), "no sql touched")
}

func TestBuildVectorCountMismatch(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3, short: true})

	err := o.Build(context.Background(), "coll-1", []harborseal.ContentUnit{
		{Text: "a", PageNumber: 1},
		{Text: "b", PageNumber: 2},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrProvider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadExistingCollection(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3})

	mock.ExpectQuery("SELECT count(.+) FROM content_embeddings").
		WithArgs("coll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	h, err := o.Load(context.Background(), "coll-1")
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestLoadMissingCollection(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3})

	mock.ExpectQuery("SELECT count(.+) FROM content_embeddings").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := o.Load(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrIndexNotFound)
}

func TestDeleteCollection(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3})

	mock.ExpectExec("DELETE FROM content_embeddings").
		WithArgs("coll-1").
		WillReturnResult(sqlmock.NewResult(0, 12))

	require.NoError(t, o.Delete(context.Background(), "coll-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchReturnsMatches(t *testing.T) {
	o, mock := newMockOrchestrator(t, &fakeEmbedder{dim: 3})

	mock.ExpectQuery("SELECT count(.+) FROM content_embeddings").
		WithArgs("coll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT content, page_number, image_index FROM content_embeddings").
		WillReturnRows(sqlmock.NewRows([]string{"content", "page_number", "image_index"}).
			AddRow("revenue grew", 3, 0).
			AddRow("bar chart of revenue", 3, 1))

	h, err := o.Load(context.Background(), "coll-1")
	require.NoError(t, err)

	results, err := h.Search(context.Background(), "revenue", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "revenue grew", results[0].Text)
	assert.Equal(t, 3, results[0].PageNumber)
	assert.Equal(t, 1, results[1].ImageIndex)
}

func TestSearchEmbedderFailure(t *testing.T) {
	embedder := &fakeEmbedder{dim: 3, queryErr: errors.New("model offline")}
	o, mock := newMockOrchestrator(t, embedder)

	mock.ExpectQuery("SELECT count(.+) FROM content_embeddings").
		WithArgs("coll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	h, err := o.Load(context.Background(), "coll-1")
	require.NoError(t, err)

	_, err = h.Search(context.Background(), "revenue", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, harborseal.ErrProvider)
}
