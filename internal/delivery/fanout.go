// Package delivery pushes extracted posts to the primary dataset and best-effort forwarders.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/IliaW/listing-crawler/internal/telemetry"
)

const defaultForwardTimeout = 30 * time.Second

var (
	PrimaryDeliveryError   = errors.New("primary sink rejected the batch")
	SecondaryDeliveryError = errors.New("secondary sink rejected the batch")
)

type PrimarySink interface {
	PushData(ctx context.Context, runID, requestUrl string, posts []model.CraigslistPost) error
}

// Forwarder is a secondary sink. Its failures never reach the caller of Deliver.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, requestUrl string, posts []model.CraigslistPost) error
}

type Fanout struct {
	runID          string
	primary        PrimarySink
	forwarders     []Forwarder
	metrics        *telemetry.SinkMetrics
	forwardTimeout time.Duration
	wg             sync.WaitGroup
}

func NewFanout(runID string, primary PrimarySink, metrics *telemetry.SinkMetrics, forwarders ...Forwarder) *Fanout {
	if metrics == nil {
		metrics = telemetry.Noop().SinkMetrics
	}
	return &Fanout{
		runID:          runID,
		primary:        primary,
		forwarders:     forwarders,
		metrics:        metrics,
		forwardTimeout: defaultForwardTimeout,
	}
}

// Deliver starts every forwarder in the background and pushes posts to the primary sink.
// Only a primary sink error is returned. An empty batch is still pushed.
func (f *Fanout) Deliver(ctx context.Context, requestUrl string, posts []model.CraigslistPost) error {
	if posts == nil {
		posts = []model.CraigslistPost{}
	}
	if len(f.forwarders) == 0 {
		slog.Debug("will not send to external api.")
	}
	for _, fw := range f.forwarders {
		f.wg.Add(1)
		go f.forward(fw, requestUrl, posts)
	}

	if err := f.primary.PushData(ctx, f.runID, requestUrl, posts); err != nil {
		f.metrics.PrimaryFailCnt(1)
		slog.Error("failed to push posts to the dataset.", slog.String("url", requestUrl),
			slog.Int("posts", len(posts)), slog.String("err", err.Error()))
		return fmt.Errorf("%w: %w", PrimaryDeliveryError, err)
	}
	f.metrics.PrimarySuccessCnt(1)
	return nil
}

func (f *Fanout) forward(fw Forwarder, requestUrl string, posts []model.CraigslistPost) {
	defer f.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), f.forwardTimeout)
	defer cancel()

	slog.Debug("sending posts to secondary sink.", slog.String("sink", fw.Name()), slog.String("url", requestUrl))
	if err := fw.Forward(ctx, requestUrl, posts); err != nil {
		f.metrics.SecondaryFailCnt(1)
		slog.Warn("there was an error sending data to secondary sink.", slog.String("sink", fw.Name()),
			slog.String("url", requestUrl), slog.String("err", fmt.Errorf("%w: %w", SecondaryDeliveryError, err).Error()))
		return
	}
	f.metrics.SecondarySuccessCnt(1)
}

// Close waits for background forwards to finish.
func (f *Fanout) Close() {
	f.wg.Wait()
}
