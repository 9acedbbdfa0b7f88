// Package worker decides transactions ingested from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// Rejection reasons.
const (
	ReasonRateLimited = "rate_limited"
	ReasonInvalid     = "invalid"
)

// Decider produces decisions. *engine.Engine implements it.
type Decider interface {
	Decide(ctx context.Context, tx *domain.Transaction) (*domain.Decision, error)
	DecideWithScores(ctx context.Context, tx *domain.Transaction, scores []domain.ModelScore) (*domain.Decision, error)
}

// TransactionMessage is the payload on the ingest topic.
type TransactionMessage struct {
	// ClientKey is the admission key. Defaults to the customer id.
	ClientKey   string              `json:"clientKey,omitempty"`
	Transaction domain.Transaction  `json:"transaction"`
	Scores      []domain.ModelScore `json:"scores,omitempty"`
}

// DecisionMessage is published for every decided transaction.
type DecisionMessage struct {
	Decision  *domain.Decision `json:"decision"`
	Error     string           `json:"error,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
}

// RejectedMessage is published when a transaction is not decided.
type RejectedMessage struct {
	TransactionID string `json:"transactionId"`
	ClientKey     string `json:"clientKey"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail,omitempty"`
	RetryAfter    int    `json:"retryAfter,omitempty"`
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of goroutines draining the queue.
	WorkerCount int

	// QueueSize bounds messages accepted but not yet decided.
	QueueSize int
}

// Worker subscribes to the ingest topic and decides each transaction on a
// fixed pool of goroutines.
type Worker struct {
	bus      domain.EventBus
	decider  Decider
	admitter domain.Admitter

	mu           sync.Mutex
	subscription domain.Subscription
	workers      int
	jobs         chan *domain.Message
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorker creates a new async worker. admitter may be nil.
func NewWorker(bus domain.EventBus, decider Decider, admitter domain.Admitter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		decider:  decider,
		admitter: admitter,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes and launches the worker pool.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription != nil {
		return errors.New("worker already started")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount * 16
	}

	w.jobs = make(chan *domain.Message, cfg.QueueSize)
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.enqueue)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionIngested, err)
	}
	w.subscription = sub
	w.workers = cfg.WorkerCount

	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.run()
	}

	slog.Info("workers started",
		"topic", domain.TopicTransactionIngested,
		"worker_count", cfg.WorkerCount,
		"queue_size", cfg.QueueSize,
	)
	return nil
}

// enqueue hands a message to the pool, waiting while the queue is full.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.jobs <- msg:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.jobs:
			if err := w.processTransaction(w.ctx, msg); err != nil {
				slog.Error("failed to process transaction message",
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// processTransaction admits and decides one message.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		return fmt.Errorf("failed to parse transaction message: %w", err)
	}
	tx := &txMsg.Transaction

	clientKey := txMsg.ClientKey
	if clientKey == "" {
		clientKey = tx.CustomerID
	}

	if w.admitter != nil {
		allowed, retryAfter := w.admitter.Allow(ctx, clientKey)
		if !allowed {
			slog.Warn("transaction rejected by admission",
				"tx_id", tx.ID,
				"client_key", clientKey,
				"retry_after", retryAfter,
			)
			return w.publish(ctx, domain.TopicTransactionRejected, RejectedMessage{
				TransactionID: tx.ID,
				ClientKey:     clientKey,
				Reason:        ReasonRateLimited,
				RetryAfter:    retryAfter,
			})
		}
		defer w.admitter.Release(clientKey)
	}

	var (
		decision *domain.Decision
		err      error
	)
	if len(txMsg.Scores) > 0 {
		decision, err = w.decider.DecideWithScores(ctx, tx, txMsg.Scores)
	} else {
		decision, err = w.decider.Decide(ctx, tx)
	}

	if decision == nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return w.publish(ctx, domain.TopicTransactionRejected, RejectedMessage{
				TransactionID: tx.ID,
				ClientKey:     clientKey,
				Reason:        ReasonInvalid,
				Detail:        verr.Error(),
			})
		}
		return fmt.Errorf("decision failed for %s: %w", tx.ID, err)
	}

	out := DecisionMessage{Decision: decision}
	if err != nil {
		out.Error = err.Error()
		out.Retryable = domain.IsRetryable(err)
		slog.Error("decision not fully persisted",
			"tx_id", tx.ID,
			"error", err,
		)
	}
	if err := w.publish(ctx, domain.TopicDecision, out); err != nil {
		return err
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"client_key", clientKey,
		"risk_score", decision.RiskScore,
		"should_block", decision.ShouldBlock,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Stop unsubscribes, cancels in-flight work and waits for the pool to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription != nil {
		if err := w.subscription.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", w.subscription.Topic(),
				"error", err,
			)
		}
		w.subscription = nil
	}
	w.cancel()
	w.wg.Wait()
	w.workers = 0

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	Subscribed  bool `json:"subscribed"`
	WorkerCount int  `json:"workerCount"`
	QueueDepth  int  `json:"queueDepth"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Subscribed:  w.subscription != nil,
		WorkerCount: w.workers,
		QueueDepth:  len(w.jobs),
	}
}
