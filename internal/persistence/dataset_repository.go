package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IliaW/listing-crawler/internal/model"
)

type DatasetStorage interface {
	PushData(ctx context.Context, runID, requestUrl string, posts []model.CraigslistPost) error
}

// DatasetRepository is the append-only store of extracted posts.
type DatasetRepository struct {
	db      *sql.DB
	dialect string
}

func NewDatasetRepository(db *sql.DB, dialect string) *DatasetRepository {
	return &DatasetRepository{db: db, dialect: dialect}
}

func (dr *DatasetRepository) Migrate(ctx context.Context) error {
	var ddl string
	if dr.dialect == "postgres" {
		ddl = `CREATE TABLE IF NOT EXISTS dataset_items (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			request_url TEXT NOT NULL,
			position INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now())`
	} else {
		ddl = `CREATE TABLE IF NOT EXISTS dataset_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			request_url TEXT NOT NULL,
			position INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)`
	}
	if _, err := dr.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create dataset_items table: %w", err)
	}
	return nil
}

// PushData appends the batch in one transaction, preserving the batch order.
// An empty batch is a successful no-op.
func (dr *DatasetRepository) PushData(ctx context.Context, runID, requestUrl string, posts []model.CraigslistPost) error {
	if len(posts) == 0 {
		slog.Debug("empty batch. Nothing to store.", slog.String("url", requestUrl))
		return nil
	}

	tx, err := dr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("failed to rollback the transaction.", slog.String("err", rbErr.Error()))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, dr.rebind(
		"INSERT INTO dataset_items (run_id, request_url, position, title, content) VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Error("failed to close the statement.", slog.String("err", closeErr.Error()))
		}
	}(stmt)

	for i, p := range posts {
		if _, err = stmt.ExecContext(ctx, runID, requestUrl, i, p.Title, p.Content); err != nil {
			return fmt.Errorf("insert post %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Debug("batch stored.", slog.String("url", requestUrl), slog.Int("size", len(posts)))
	return nil
}

// Items returns the stored posts of a run in insertion order.
func (dr *DatasetRepository) Items(ctx context.Context, runID string) ([]model.CraigslistPost, error) {
	rows, err := dr.db.QueryContext(ctx,
		dr.rebind("SELECT title, content FROM dataset_items WHERE run_id = ? ORDER BY id"), runID)
	if err != nil {
		return nil, fmt.Errorf("query dataset items: %w", err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			slog.Error("failed to close rows.", slog.String("err", err.Error()))
		}
	}(rows)

	var posts []model.CraigslistPost
	for rows.Next() {
		var p model.CraigslistPost
		if err = rows.Scan(&p.Title, &p.Content); err != nil {
			return nil, fmt.Errorf("scan dataset item: %w", err)
		}
		posts = append(posts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

// rebind turns ? placeholders into $n for postgres.
func (dr *DatasetRepository) rebind(query string) string {
	if dr.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
