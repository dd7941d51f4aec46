// Package extract turns a fetched listing page into posts and a diagnostic snapshot.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/listing-crawler/internal/fetcher"
	"github.com/IliaW/listing-crawler/internal/model"
)

const DefaultWaitTimeout = 10 * time.Second

var ExtractionTimeoutError = errors.New("results container was not ready")

// SnapshotStore keeps diagnostic page artifacts keyed by sanitized request URL.
type SnapshotStore interface {
	Save(ctx context.Context, key string, content []byte) error
}

type Snapshot struct {
	Key   string
	Size  int
	Saved bool
}

type Extractor struct {
	resultsSelector string
	postSelector    string
	waitTimeout     time.Duration
	snapshots       SnapshotStore
}

type Option func(*Extractor)

func WithResultsSelector(selector string) Option {
	return func(e *Extractor) {
		if selector != "" {
			e.resultsSelector = selector
		}
	}
}

func WithPostSelector(selector string) Option {
	return func(e *Extractor) {
		if selector != "" {
			e.postSelector = selector
		}
	}
}

func WithWaitTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.waitTimeout = d
		}
	}
}

// New builds an Extractor. snapshots may be nil, in which case snapshots are not stored.
func New(snapshots SnapshotStore, opts ...Option) *Extractor {
	e := &Extractor{
		resultsSelector: ".results",
		postSelector:    ".result-node",
		waitTimeout:     DefaultWaitTimeout,
		snapshots:       snapshots,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract waits for the results container, reads every result node paired with the page title
// and stores a snapshot. Zero posts is a valid result. Only a wait timeout fails the extraction;
// snapshot errors are logged.
func (e *Extractor) Extract(ctx context.Context, page fetcher.Page, requestUrl string) ([]model.CraigslistPost, *Snapshot, error) {
	if err := page.WaitForSelector(ctx, e.resultsSelector, e.waitTimeout); err != nil {
		if errors.Is(err, fetcher.SelectorTimeoutError) {
			return nil, nil, fmt.Errorf("%w: %w", ExtractionTimeoutError, err)
		}
		return nil, nil, err
	}

	title, err := page.Title(ctx)
	if err != nil {
		slog.Warn("failed to read the page title.", slog.String("url", requestUrl),
			slog.String("err", err.Error()))
	}
	slog.Info(fmt.Sprintf("scraping %s | %s", title, requestUrl))

	nodes, err := page.QueryAll(ctx, e.postSelector)
	if err != nil {
		return nil, nil, fmt.Errorf("query %q: %w", e.postSelector, err)
	}
	posts := make([]model.CraigslistPost, 0, len(nodes))
	for _, content := range nodes {
		posts = append(posts, model.CraigslistPost{Content: content, Title: title})
	}
	slog.Info(fmt.Sprintf("got %d posts.", len(posts)), slog.String("url", requestUrl))

	return posts, e.snapshot(ctx, page, requestUrl), nil
}

func (e *Extractor) snapshot(ctx context.Context, page fetcher.Page, requestUrl string) *Snapshot {
	snap := &Snapshot{Key: SnapshotKey(requestUrl)}
	if e.snapshots == nil {
		return snap
	}
	content, err := page.Snapshot(ctx)
	if err != nil {
		slog.Warn("failed to capture the page snapshot.", slog.String("key", snap.Key),
			slog.String("err", err.Error()))
		return snap
	}
	snap.Size = len(content)
	if err = e.snapshots.Save(ctx, snap.Key, content); err != nil {
		slog.Warn("failed to save the page snapshot.", slog.String("key", snap.Key),
			slog.String("err", err.Error()))
		return snap
	}
	snap.Saved = true
	return snap
}

var keyReplacer = strings.NewReplacer(":", "_", "/", "_")

// SnapshotKey replaces the URL characters that are not allowed in store keys.
func SnapshotKey(requestUrl string) string {
	return keyReplacer.Replace(requestUrl)
}
