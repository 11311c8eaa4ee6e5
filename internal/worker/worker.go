// Package worker triggers analysis runs from corpus events.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// Worker subscribes to the corpus-loaded topic and starts a full-corpus
// analysis run for each import, so a freshly loaded corpus is analyzed
// without waiting for an API call. The engine publishes the run
// lifecycle events as usual.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine
	scorer *risk.Scorer

	subscriptions []domain.Subscription
	running       sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a worker. Call Start to begin listening.
func New(bus domain.EventBus, eng *engine.Engine, scorer *risk.Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the corpus-loaded topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCorpusLoaded, w.handleCorpusLoaded)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("analysis worker started", "topic", domain.TopicCorpusLoaded)
	return nil
}

// corpusMessage is the slice of the corpus-loaded payload the worker
// reads for logging.
type corpusMessage struct {
	Transactions int   `json:"transactions"`
	Cards        int   `json:"cards"`
	DurationMs   int64 `json:"durationMs"`
}

func (w *Worker) handleCorpusLoaded(_ context.Context, msg *domain.Message) error {
	var summary corpusMessage
	if err := json.Unmarshal(msg.Payload, &summary); err != nil {
		slog.Error("failed to parse corpus event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Info("corpus import detected, starting analysis",
		"transactions", summary.Transactions,
		"cards", summary.Cards,
		"import_ms", summary.DurationMs,
	)

	// Runs serialize: a second import waits for the active run to finish.
	w.running.Lock()
	defer w.running.Unlock()

	rep, err := w.engine.Run(w.ctx, domain.Filter{})
	if err != nil {
		slog.Error("triggered analysis failed", "error", err)
		return err
	}

	if top := rep.TopRiskTransactions; len(top) > 0 && w.scorer.Critical(top[0].Score) {
		slog.Warn("imported corpus contains critical-risk activity",
			"top_tx", top[0].TransactionID,
			"top_score", top[0].Score,
			"immediate_attention", rep.Assessment.ImmediateAttention,
		)
	}
	return nil
}

// Stop unsubscribes and waits for an in-flight run to finish.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.running.Lock()
	w.running.Unlock()

	slog.Info("analysis worker stopped")
	return nil
}
