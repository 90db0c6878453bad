package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	harborseal "github.com/holmes89/harbor-seal/lib"
)

// DocumentRepo persists Document records, the single writer for ingested
// file identity.
type DocumentRepo struct {
	*Conn
}

var _ harborseal.DocumentRepository = (*DocumentRepo)(nil)

var documentColumns = []string{"uuid", "name", "path", "size", "type", "collection_id", "created_at", "updated_at"}

// Create inserts the record and fills in the db-assigned timestamps.
func (r *DocumentRepo) Create(ctx context.Context, d *harborseal.Document) error {
	err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).Insert("documents").
		Columns("uuid", "name", "path", "size", "type", "collection_id").
		Values(
			d.ID,
			d.Name,
			d.Path,
			d.Size,
			d.Type,
			d.CollectionID).
		Suffix("RETURNING created_at, updated_at").
		RunWith(r.conn).
		QueryRowContext(ctx).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.Path, err)
	}
	return nil
}

func (r *DocumentRepo) GetByPath(ctx context.Context, path string) (*harborseal.Document, error) {
	return r.getWhere(ctx, sq.Eq{"path": path})
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*harborseal.Document, error) {
	return r.getWhere(ctx, sq.Eq{"uuid": id})
}

func (r *DocumentRepo) getWhere(ctx context.Context, pred sq.Eq) (*harborseal.Document, error) {
	d := &harborseal.Document{}
	err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(documentColumns...).
		From("documents").
		Where(pred).
		RunWith(r.conn).
		QueryRowContext(ctx).
		Scan(
			&d.ID,
			&d.Name,
			&d.Path,
			&d.Size,
			&d.Type,
			&d.CollectionID,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, harborseal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) List(ctx context.Context) ([]*harborseal.Document, error) {
	rows, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(documentColumns...).
		From("documents").
		OrderBy("created_at DESC").
		RunWith(r.conn).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var documents []*harborseal.Document
	for rows.Next() {
		d := &harborseal.Document{}
		err := rows.Scan(
			&d.ID,
			&d.Name,
			&d.Path,
			&d.Size,
			&d.Type,
			&d.CollectionID,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	return documents, rows.Err()
}

// UpdateStats mutates size, type and the updated timestamp in place on
// re-ingestion. Identity and collection id never change.
func (r *DocumentRepo) UpdateStats(ctx context.Context, id string, size int64, fileType string) error {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("documents").
		Set("size", size).
		Set("type", fileType).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"uuid": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete("documents").
		Where(sq.Eq{"uuid": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}
