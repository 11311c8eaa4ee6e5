// Package engine orchestrates the analysis pipeline: validate, measure
// the distribution, classify, detect patterns, score, summarize.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/outlier"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Version identifies the engine in report envelopes and run events.
const Version = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-engine")

// Engine runs the full analysis pipeline over transaction snapshots.
type Engine struct {
	repo       domain.Repository
	bus        domain.EventBus
	rules      *rules.Engine
	detector   *patterns.Detector
	scorer     *risk.Scorer
	summarizer *report.Summarizer
	analysis   domain.AnalysisConfig
}

// New creates an engine. The bus may be nil to disable lifecycle
// events; the repository may be nil when callers only use RunSnapshot.
func New(repo domain.Repository, bus domain.EventBus, ruleEngine *rules.Engine, cfg *domain.Config) *Engine {
	return &Engine{
		repo:       repo,
		bus:        bus,
		rules:      ruleEngine,
		detector:   patterns.NewDetector(cfg.Analysis),
		scorer:     risk.NewScorer(cfg.Analysis),
		summarizer: report.NewSummarizer(cfg.Analysis, cfg.Report),
		analysis:   cfg.Analysis,
	}
}

// Run fetches the filtered snapshot from the repository and analyzes it.
func (e *Engine) Run(ctx context.Context, filter domain.Filter) (*domain.Report, error) {
	ctx, span := tracer.Start(ctx, "engine.Run")
	defer span.End()

	snap, err := e.repo.FetchSnapshot(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	return e.RunSnapshot(ctx, snap)
}

// RunSnapshot analyzes a snapshot the caller already holds. The report
// is deterministic: equal snapshots and configuration produce equal
// reports, byte for byte once serialized.
func (e *Engine) RunSnapshot(ctx context.Context, snap domain.Snapshot) (*domain.Report, error) {
	start := time.Now()
	runID := uuid.New().String()

	ctx, span := tracer.Start(ctx, "engine.RunSnapshot",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.transactions", snap.Size()),
		),
	)
	defer span.End()

	slog.Info("analysis run started",
		"run_id", runID,
		"transactions", snap.Size(),
	)
	e.publish(ctx, domain.TopicRunStarted, domain.RunEvent{
		RunID:        runID,
		Transactions: snap.Size(),
	})

	rep, err := e.analyze(ctx, snap)
	if err != nil {
		slog.Error("analysis run failed",
			"run_id", runID,
			"error", err,
		)
		e.publish(ctx, domain.TopicRunFailed, domain.RunEvent{
			RunID:        runID,
			Transactions: snap.Size(),
			DurationMs:   time.Since(start).Milliseconds(),
			Error:        err.Error(),
		})
		return nil, err
	}

	slog.Info("analysis run completed",
		"run_id", runID,
		"transactions", snap.Size(),
		"critical", rep.Severities.Critical,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	e.publish(ctx, domain.TopicRunCompleted, domain.RunEvent{
		RunID:        runID,
		Transactions: snap.Size(),
		Critical:     rep.Severities.Critical,
		DurationMs:   time.Since(start).Milliseconds(),
	})

	return rep, nil
}

// analyze runs the pipeline stages in dependency order: the
// distribution feeds classification, small transactions feed the
// merchant and card-testing rules, and everything feeds scoring.
func (e *Engine) analyze(ctx context.Context, snap domain.Snapshot) (*domain.Report, error) {
	// 1. Validate and guard the sample size
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if snap.Size() < e.analysis.Outliers.MinSampleSize {
		return nil, &domain.InsufficientDataError{
			Op:   "engine.Run",
			Need: e.analysis.Outliers.MinSampleSize,
			Got:  snap.Size(),
		}
	}

	// 2. Amount distribution and outlier bounds
	_, done := stage(ctx, "distribution")
	dist, err := stats.Describe(snap.Amounts())
	if err != nil {
		done()
		return nil, err
	}
	bounds := stats.Bounds(dist, e.analysis.Outliers.IQRMultiplier, e.analysis.Outliers.ZScoreThreshold)
	done()

	// 3. Outlier classification
	_, done = stage(ctx, "outliers")
	findings := outlier.Classify(snap, dist, bounds)
	done()

	// 4. Velocity: rapid sequences and bursts
	_, done = stage(ctx, "velocity")
	rapid := velocity.DetectRapid(snap, e.analysis.Velocity.TimeWindowMinutes)
	bursts := velocity.DetectBursts(snap, e.analysis.Velocity)
	done()

	// 5. Temporal and structural patterns
	_, done = stage(ctx, "patterns")
	early := e.detector.EarlyMorning(snap)
	smallCards := e.detector.SmallTransactions(snap)
	suspects := e.detector.CardTestingSuspects(snap)
	merchants := e.detector.VulnerableMerchants(snap)
	hourly := patterns.Hourly(snap)
	done()

	// 6. Custom rules
	var matches []rules.Matches
	if e.rules != nil && e.rules.RulesCount() > 0 {
		rctx, rdone := stage(ctx, "rules")
		matches, err = e.rules.Evaluate(rctx, snap)
		rdone()
		if err != nil {
			return nil, fmt.Errorf("rule evaluation failed: %w", err)
		}
	}

	// 7. Risk scoring
	_, done = stage(ctx, "scoring")
	txScores, holderScores := e.score(snap, findings, rapid, early, smallCards)
	done()

	// 8. Assemble the report
	_, done = stage(ctx, "summarize")
	rep := e.summarizer.Summarize(report.Inputs{
		Snapshot:     snap,
		Stats:        dist,
		Bounds:       bounds,
		Findings:     findings,
		Rapid:        rapid,
		Bursts:       bursts,
		EarlyMorning: early,
		SmallCards:   smallCards,
		CardTesting:  suspects,
		Merchants:    merchants,
		Hourly:       hourly,
		RuleMatches:  matches,
		TxScores:     txScores,
		HolderScores: holderScores,
	})
	done()

	return rep, nil
}

// score assembles per-transaction signals from the detector outputs and
// produces the transaction and cardholder composites. Transaction
// scores come out in snapshot order, holder scores in holder ID order.
func (e *Engine) score(snap domain.Snapshot, findings []domain.OutlierFinding, rapid []domain.VelocityFinding, early []domain.EarlyMorningFinding, smallCards []domain.CardActivity) ([]domain.RiskScore, []domain.CardHolderRisk) {
	findingByTx := make(map[string]*domain.OutlierFinding, len(findings))
	for i := range findings {
		findingByTx[findings[i].TransactionID] = &findings[i]
	}
	rapidTx := make(map[string]struct{}, len(rapid))
	for i := range rapid {
		rapidTx[rapid[i].TransactionID] = struct{}{}
	}
	earlyTx := make(map[string]struct{}, len(early))
	for i := range early {
		earlyTx[early[i].TransactionID] = struct{}{}
	}
	smallByCard := make(map[string]int, len(smallCards))
	holderSmall := make(map[string]int)
	for i := range smallCards {
		smallByCard[smallCards[i].CardID] = smallCards[i].Count
		holderSmall[smallCards[i].CardHolderID] += smallCards[i].Count
	}

	type holderAgg struct {
		name       string
		cards      map[string]struct{}
		txCount    int
		maxOutlier float64
		anyRapid   bool
		anyEarly   bool
	}
	holders := make(map[string]*holderAgg)

	txScores := make([]domain.RiskScore, 0, snap.Size())
	for i := range snap.Transactions {
		tx := &snap.Transactions[i]

		sig := risk.Signals{SmallCount: smallByCard[tx.CardID]}
		if f := findingByTx[tx.ID]; f != nil {
			sig.Classification = f.Classification
			sig.ZScore = f.ZScore
		}
		if _, ok := rapidTx[tx.ID]; ok {
			sig.RapidVelocity = true
		}
		if _, ok := earlyTx[tx.ID]; ok {
			sig.EarlyMorning = true
		}

		score := e.scorer.ScoreTransaction(tx.ID, tx.CardID, sig)
		txScores = append(txScores, score)

		agg := holders[tx.CardHolderID]
		if agg == nil {
			agg = &holderAgg{name: tx.CardHolderName, cards: make(map[string]struct{})}
			holders[tx.CardHolderID] = agg
		}
		agg.cards[tx.CardID] = struct{}{}
		agg.txCount++
		if score.Indicators.Outlier > agg.maxOutlier {
			agg.maxOutlier = score.Indicators.Outlier
		}
		agg.anyRapid = agg.anyRapid || sig.RapidVelocity
		agg.anyEarly = agg.anyEarly || sig.EarlyMorning
	}

	holderIDs := make([]string, 0, len(holders))
	for id := range holders {
		holderIDs = append(holderIDs, id)
	}
	sort.Strings(holderIDs)

	holderScores := make([]domain.CardHolderRisk, 0, len(holderIDs))
	for _, id := range holderIDs {
		agg := holders[id]
		holderScores = append(holderScores, e.scorer.ScoreCardHolder(risk.HolderSignals{
			HolderID:     id,
			HolderName:   agg.name,
			Cards:        len(agg.cards),
			Transactions: agg.txCount,
			SmallCount:   holderSmall[id],
			MaxOutlier:   agg.maxOutlier,
			AnyRapid:     agg.anyRapid,
			AnyEarly:     agg.anyEarly,
		}))
	}

	return txScores, holderScores
}

// stage starts a pipeline span and returns a completion func that ends
// it and logs the stage duration.
func stage(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, "engine."+name)
	start := time.Now()
	return ctx, func() {
		span.End()
		slog.Debug("stage completed",
			"stage", name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// publish sends a run lifecycle event. Publish failures are logged and
// otherwise ignored; the bus observes runs, it does not gate them.
func (e *Engine) publish(ctx context.Context, topic string, event domain.RunEvent) {
	if e.bus == nil {
		return
	}
	payload, _ := json.Marshal(event)
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish run event",
			"topic", topic,
			"run_id", event.RunID,
			"error", err,
		)
	}
}
