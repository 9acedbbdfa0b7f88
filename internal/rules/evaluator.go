// Package rules provides the CEL-Go based business rule evaluator.
package rules

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Built-in rule expressions. Thresholds are activation variables so the
// programs never need recompiling when configuration changes.
var builtinExpressions = []struct {
	id         domain.RuleID
	expression string
}{
	{domain.RuleHighAmount, `amount > high_amount_threshold`},
	{domain.RuleHighVelocity, `tx_count_24h > max_daily_transactions`},
	{domain.RuleUnusualTime, `night_start > night_end
		? (hour >= night_start || hour <= night_end)
		: (hour >= night_start && hour <= night_end)`},
	{domain.RuleForeignCountry, `!(country in home_countries)`},
}

// Evaluator applies business rules to a transaction. It holds no mutable
// state after construction and is safe for concurrent use.
type Evaluator struct {
	cfg           domain.RulesConfig
	loc           *time.Location
	homeCountries []string
	rules         []*compiledRule
	now           func() time.Time
	logger        *slog.Logger
}

type compiledRule struct {
	id      domain.RuleID
	weight  float64
	program cel.Program
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now for the timestamp fallback.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithLogger sets the logger used for evaluation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// NewEvaluator compiles the built-in rules plus any configured custom rules.
func NewEvaluator(cfg domain.RulesConfig, opts ...Option) (*Evaluator, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid rules timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	env, err := cel.NewEnv(
		// Transaction variables
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("tx_count_24h", cel.IntType),
		// Thresholds
		cel.Variable("high_amount_threshold", cel.DoubleType),
		cel.Variable("max_daily_transactions", cel.IntType),
		cel.Variable("night_start", cel.IntType),
		cel.Variable("night_end", cel.IntType),
		cel.Variable("home_countries", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Evaluator{
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, c := range cfg.HomeCountries {
		e.homeCountries = append(e.homeCountries, strings.ToUpper(c))
	}
	for _, opt := range opts {
		opt(e)
	}

	weights := map[domain.RuleID]float64{
		domain.RuleHighAmount:     cfg.HighAmountWeight,
		domain.RuleHighVelocity:   cfg.HighVelocityWeight,
		domain.RuleUnusualTime:    cfg.UnusualTimeWeight,
		domain.RuleForeignCountry: cfg.ForeignCountryWeight,
	}
	for _, b := range builtinExpressions {
		r, err := compile(env, b.id, b.expression, weights[b.id])
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, r)
	}

	for _, c := range cfg.CustomRules {
		if c.ID == "" {
			return nil, fmt.Errorf("custom rule id is required")
		}
		if c.Weight < 0 || c.Weight > 1 {
			return nil, fmt.Errorf("custom rule %s: weight must be within [0,1]", c.ID)
		}
		r, err := compile(env, domain.RuleID(c.ID), c.Expression, c.Weight)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, r)
	}

	return e, nil
}

func compile(env *cel.Env, id domain.RuleID, expression string, weight float64) (*compiledRule, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", id, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", id, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", id, err)
	}

	return &compiledRule{id: id, weight: weight, program: program}, nil
}

// Evaluate returns the rules the transaction violates, in rule order.
// It never fails: an unparseable timestamp falls back to now and a rule
// that errors is treated as not fired.
func (e *Evaluator) Evaluate(tx *domain.Transaction, hctx domain.HistoricalContext) []domain.RuleViolation {
	at, ok := domain.ParseTimestamp(tx.Timestamp, e.loc)
	if !ok {
		if tx.Timestamp != "" {
			e.logger.Warn("unparseable transaction timestamp, using current time",
				"tx_id", tx.ID,
				"timestamp", tx.Timestamp,
			)
		}
		at = e.now()
	}
	at = at.In(e.loc)

	activation := map[string]any{
		"amount":                 tx.Amount.InexactFloat64(),
		"currency":               tx.Currency,
		"customer_id":            tx.CustomerID,
		"merchant_id":            tx.MerchantID,
		"tx_type":                tx.Type,
		"payment_method":         tx.PaymentMethod,
		"location":               tx.Location,
		"country":                strings.ToUpper(strings.TrimSpace(tx.CountryCode)),
		"hour":                   int64(at.Hour()),
		"tx_count_24h":           int64(hctx.TransactionCount24h),
		"high_amount_threshold":  e.cfg.HighAmountThreshold,
		"max_daily_transactions": int64(e.cfg.MaxDailyTransactions),
		"night_start":            int64(e.cfg.NightStartHour),
		"night_end":              int64(e.cfg.NightEndHour),
		"home_countries":         e.homeCountries,
	}

	var violations []domain.RuleViolation
	for _, r := range e.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			e.logger.Warn("rule evaluation failed",
				"tx_id", tx.ID,
				"rule", r.id,
				"error", err,
			)
			continue
		}
		if !fired(out) {
			continue
		}
		violations = append(violations, domain.RuleViolation{
			Rule:   r.id,
			Weight: r.weight,
			Detail: e.detail(r.id, tx, hctx, at),
		})
	}

	return violations
}

// Score sums violation weights, clamped to [0,1].
func Score(violations []domain.RuleViolation) float64 {
	sum := 0.0
	for _, v := range violations {
		sum += v.Weight
	}
	return clamp(sum)
}

// RuleIDs returns the identifiers of the violated rules.
func RuleIDs(violations []domain.RuleViolation) []domain.RuleID {
	ids := make([]domain.RuleID, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.Rule)
	}
	return ids
}

// RulesCount returns the number of loaded rules.
func (e *Evaluator) RulesCount() int {
	return len(e.rules)
}

func (e *Evaluator) detail(id domain.RuleID, tx *domain.Transaction, hctx domain.HistoricalContext, at time.Time) string {
	switch id {
	case domain.RuleHighAmount:
		return fmt.Sprintf("amount %s %s exceeds %.0f", tx.Amount.String(), tx.Currency, e.cfg.HighAmountThreshold)
	case domain.RuleHighVelocity:
		return fmt.Sprintf("%d transactions in 24h exceeds %d", hctx.TransactionCount24h, e.cfg.MaxDailyTransactions)
	case domain.RuleUnusualTime:
		return fmt.Sprintf("transaction at %02d:%02d", at.Hour(), at.Minute())
	case domain.RuleForeignCountry:
		if tx.CountryCode == "" {
			return "country unknown"
		}
		return fmt.Sprintf("country %s outside home jurisdictions", strings.ToUpper(tx.CountryCode))
	default:
		return "custom rule"
	}
}

func fired(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
