// Package engine orchestrates a fraud decision for one transaction: scoring
// fan-out, business rules, aggregation, policy, persistence and alerting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/ensemble"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/metrics"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/policy"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/rules"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("sentra-engine")

// Degraded reasons.
const (
	ReasonNoSources = "no scoring source available"
	ReasonInternal  = "internal error"
)

// AlertCreator raises an alert for a decision.
type AlertCreator interface {
	Create(ctx context.Context, tx *domain.Transaction, d *domain.Decision) (*domain.Alert, error)
}

// Engine produces decisions. It holds no per-transaction state and is safe
// for concurrent use.
type Engine struct {
	cfg        domain.EngineConfig
	currencies map[string]struct{}
	validate   *validator.Validate

	sources  []*guardedSource
	history  domain.HistoryProvider
	rules    *rules.Evaluator
	ensemble *ensemble.Aggregator
	policy   *policy.Policy

	txs      domain.TransactionStore
	alerts   AlertCreator
	enforcer domain.Enforcer
	cache    domain.DecisionCache
	cacheTTL time.Duration

	// inflight collapses concurrent decisions for one transaction id.
	inflight singleflight.Group

	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSources sets the scoring sources.
func WithSources(sources ...domain.ScoringSource) Option {
	return func(e *Engine) {
		for _, s := range sources {
			e.sources = append(e.sources, newGuardedSource(s, e.cfg, e.logger))
		}
	}
}

// WithHistory sets the historical context provider.
func WithHistory(h domain.HistoryProvider) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithAlerts sets the alert creator.
func WithAlerts(a AlertCreator) Option {
	return func(e *Engine) {
		e.alerts = a
	}
}

// WithEnforcer sets the auto-block collaborator.
func WithEnforcer(enf domain.Enforcer) Option {
	return func(e *Engine) {
		e.enforcer = enf
	}
}

// WithCache enables decision replay for retried transactions.
func WithCache(c domain.DecisionCache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger. It must precede WithSources to reach the
// breaker logs.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine over its required components.
func New(cfg domain.EngineConfig, evaluator *rules.Evaluator, aggregator *ensemble.Aggregator, pol *policy.Policy, txs domain.TransactionStore, opts ...Option) (*Engine, error) {
	if evaluator == nil || aggregator == nil || pol == nil || txs == nil {
		return nil, errors.New("engine requires rules, ensemble, policy and transaction store")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	e := &Engine{
		cfg:        cfg,
		currencies: make(map[string]struct{}, len(cfg.AllowedCurrencies)),
		validate:   v,
		rules:      evaluator,
		ensemble:   aggregator,
		policy:     pol,
		txs:        txs,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, c := range cfg.AllowedCurrencies {
		e.currencies[strings.ToUpper(c)] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Validate checks the transaction fields a decision needs.
func (e *Engine) Validate(tx *domain.Transaction) error {
	if tx == nil {
		return &domain.ValidationError{Field: "transaction", Reason: "is required"}
	}

	if err := e.validate.Struct(tx); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return &domain.ValidationError{Field: "transaction", Reason: err.Error()}
	}

	if !tx.Amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if _, ok := e.currencies[strings.ToUpper(tx.Currency)]; !ok {
		return &domain.ValidationError{Field: "currency", Reason: fmt.Sprintf("%s is not supported", tx.Currency)}
	}
	return nil
}

// Decide scores the transaction against every configured source and returns
// the verdict.
//
// A validation failure returns a nil decision. A store failure returns the
// decision together with a *domain.PersistenceError; retrying with the same
// transaction id replays the decision. Concurrent calls for the same id share
// one run. Internal faults yield a degraded decision that never blocks.
func (e *Engine) Decide(ctx context.Context, tx *domain.Transaction) (*domain.Decision, error) {
	return e.decide(ctx, tx, nil, true)
}

// DecideWithScores decides on pre-computed model scores and skips the
// scoring sources. An empty score list gives a degraded decision.
func (e *Engine) DecideWithScores(ctx context.Context, tx *domain.Transaction, scores []domain.ModelScore) (*domain.Decision, error) {
	for i, s := range scores {
		if !inUnit(s.Probability) {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("scores[%d].probability", i), Reason: "must be within [0,1]"}
		}
	}
	return e.decide(ctx, tx, scores, false)
}

// outcome carries a decision and its error through the in-flight group.
type outcome struct {
	d   *domain.Decision
	err error
}

func (e *Engine) decide(ctx context.Context, tx *domain.Transaction, given []domain.ModelScore, fanOut bool) (d *domain.Decision, err error) {
	ctx, span := tracer.Start(ctx, "engine.Decide")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during decision, returning fail-safe",
				"tx_id", txID(tx),
				"panic", r,
			)
			span.SetStatus(codes.Error, "panic recovered")
			metrics.DegradedTotal.WithLabelValues("panic").Inc()
			d, err = e.failSafe(tx), nil
		}
	}()

	if err := e.Validate(tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.id", tx.ID))

	v, _, shared := e.inflight.Do(tx.ID, func() (any, error) {
		d, err := e.run(ctx, span, tx, given, fanOut)
		return outcome{d: d, err: err}, nil
	})
	res := v.(outcome)
	if shared {
		span.SetAttributes(attribute.Bool("decision.shared", true))
		if res.d != nil {
			cp := *res.d
			res.d = &cp
		}
	}
	return res.d, res.err
}

// run executes the pipeline for one transaction id. Callers hold the id's
// in-flight slot.
func (e *Engine) run(ctx context.Context, span trace.Span, tx *domain.Transaction, given []domain.ModelScore, fanOut bool) (*domain.Decision, error) {
	start := e.now()

	if cached := e.cached(ctx, tx.ID); cached != nil {
		span.SetAttributes(attribute.Bool("decision.replayed", true))
		return e.commit(ctx, span, tx, cached)
	}

	var results []domain.SourceResult
	scores := given
	if fanOut {
		results, scores = e.collectScores(ctx, tx)
	}

	hctx := domain.HistoricalContext{TransactionCount24h: e.recentCount(ctx, tx)}
	violations := e.rules.Evaluate(tx, hctx)
	business := rules.Score(violations)

	var decision domain.Decision
	if len(scores) == 0 {
		decision = e.degraded(business, violations, ReasonNoSources)
		metrics.DegradedTotal.WithLabelValues("no_sources").Inc()
		e.logger.Warn("no model score available, deciding in degraded mode",
			"tx_id", tx.ID,
			"sources", len(e.sources),
		)
	} else {
		agg, err := e.ensemble.Aggregate(scores, tx)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate scores: %w", err)
		}
		decision = e.policy.Decide(agg.Score, business, violations)
		decision.Strategy = agg.Strategy
		decision.Vote = agg.Vote
	}
	decision.TransactionID = tx.ID
	decision.Sources = results
	decision.Timestamp = e.now().UTC()

	metrics.DecisionsTotal.WithLabelValues(verdict(&decision), string(decision.Strategy)).Inc()
	metrics.DecisionDuration.Observe(e.now().Sub(start).Seconds())

	e.logger.Info("transaction decided",
		"tx_id", tx.ID,
		"risk_score", decision.RiskScore,
		"is_fraud", decision.IsFraud,
		"should_block", decision.ShouldBlock,
		"severity", decision.Severity,
		"degraded", decision.Degraded,
	)

	return e.commit(ctx, span, tx, &decision)
}

// commit caches, persists, alerts and enforces. Steps already recorded on a
// replayed decision are skipped.
func (e *Engine) commit(ctx context.Context, span trace.Span, tx *domain.Transaction, d *domain.Decision) (*domain.Decision, error) {
	span.SetAttributes(
		attribute.Float64("decision.risk_score", d.RiskScore),
		attribute.Bool("decision.is_fraud", d.IsFraud),
		attribute.Bool("decision.should_block", d.ShouldBlock),
		attribute.Bool("decision.degraded", d.Degraded),
	)

	e.remember(ctx, d)

	eventTime, ok := domain.ParseTimestamp(tx.Timestamp, time.UTC)
	if !ok {
		eventTime = d.Timestamp
	}
	if _, err := e.txs.Save(ctx, domain.NewTransactionRecord(tx, eventTime.UTC(), d)); err != nil {
		return d, e.persistenceFailure(span, tx, "save_transaction", err)
	}

	if d.ShouldAlert && d.AlertID == "" && e.alerts != nil {
		alert, err := e.alerts.Create(ctx, tx, d)
		if err != nil {
			return d, e.persistenceFailure(span, tx, "create_alert", err)
		}
		d.AlertID = alert.ID
		e.remember(ctx, d)
	}

	if d.ShouldBlock && !d.Enforced && e.enforce(ctx, tx, d) {
		d.Enforced = true
		e.remember(ctx, d)
	}

	span.SetStatus(codes.Ok, "")
	return d, nil
}

func (e *Engine) persistenceFailure(span trace.Span, tx *domain.Transaction, op string, err error) error {
	perr := &domain.PersistenceError{Op: op, Err: err}
	metrics.PersistenceFailuresTotal.WithLabelValues(op).Inc()
	span.RecordError(perr)
	span.SetStatus(codes.Error, op+" failed")
	e.logger.Error("failed to persist decision",
		"tx_id", tx.ID,
		"op", op,
		"error", err,
	)
	return perr
}

// enforce hands the block to the enforcer and reports whether it was
// accepted. Failures are logged only.
func (e *Engine) enforce(ctx context.Context, tx *domain.Transaction, d *domain.Decision) bool {
	if e.enforcer == nil {
		return false
	}
	if err := e.enforcer.Block(ctx, tx, d); err != nil {
		e.logger.Warn("auto-block enforcement failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return false
	}
	e.logger.Info("transaction auto-blocked",
		"tx_id", tx.ID,
		"risk_score", d.RiskScore,
	)
	return true
}

// recentCount loads the customer's transaction count. An unavailable history
// counts as zero.
func (e *Engine) recentCount(ctx context.Context, tx *domain.Transaction) int {
	if e.history == nil {
		return 0
	}

	if e.cfg.HistoryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.HistoryTimeout)
		defer cancel()
	}

	window := e.cfg.HistoryWindowHours
	if window <= 0 {
		window = 24
	}

	n, err := e.history.RecentTransactionCount(ctx, tx.CustomerID, window)
	if err != nil {
		e.logger.Warn("historical context unavailable, assuming no history",
			"tx_id", tx.ID,
			"customer_id", tx.CustomerID,
			"error", err,
		)
		return 0
	}
	return n
}

func (e *Engine) cached(ctx context.Context, id string) *domain.Decision {
	if e.cache == nil {
		return nil
	}
	d, err := e.cache.GetDecision(ctx, id)
	if err != nil {
		e.logger.Warn("decision cache read failed", "tx_id", id, "error", err)
		return nil
	}
	return d
}

// remember caches the decision for replay. Degraded decisions are not cached
// so a retry can score again once sources recover.
func (e *Engine) remember(ctx context.Context, d *domain.Decision) {
	if e.cache == nil || d.Degraded {
		return
	}
	if err := e.cache.SetDecision(ctx, d.TransactionID, d, e.cacheTTL); err != nil {
		e.logger.Warn("decision cache write failed", "tx_id", d.TransactionID, "error", err)
	}
}

// degraded is the conservative decision used when no model score exists.
// Rule results are kept for the record but never block.
func (e *Engine) degraded(business float64, violations []domain.RuleViolation, reason string) domain.Decision {
	recommendation := policy.RecommendApprove
	if len(violations) > 0 {
		recommendation = policy.RecommendManualReview
	}
	return domain.Decision{
		BusinessScore:  business,
		Severity:       domain.SeverityLow,
		Recommendation: recommendation,
		ViolatedRules:  rules.RuleIDs(violations),
		Degraded:       true,
		DegradedReason: reason,
	}
}

func (e *Engine) failSafe(tx *domain.Transaction) *domain.Decision {
	return &domain.Decision{
		TransactionID:  txID(tx),
		Severity:       domain.SeverityLow,
		Recommendation: policy.RecommendManualReview,
		ViolatedRules:  []domain.RuleID{},
		Degraded:       true,
		DegradedReason: ReasonInternal,
		Timestamp:      e.now().UTC(),
	}
}

func verdict(d *domain.Decision) string {
	switch {
	case d.Degraded:
		return "degraded"
	case d.ShouldBlock:
		return "block"
	case d.IsFraud:
		return "fraud"
	default:
		return "approve"
	}
}

func txID(tx *domain.Transaction) string {
	if tx == nil {
		return ""
	}
	return tx.ID
}
