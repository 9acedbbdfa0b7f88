// Package velocity provides the customer transaction history used by rules.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// Service counts a customer's recent transactions. It implements
// domain.HistoryProvider.
type Service struct {
	store domain.TransactionStore
	now   func() time.Time
}

// NewService creates a new velocity service backed by the transaction store.
func NewService(store domain.TransactionStore) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// RecentTransactionCount returns the number of transactions the customer made
// within the last windowHours.
func (s *Service) RecentTransactionCount(ctx context.Context, customerID string, windowHours int) (int, error) {
	if customerID == "" {
		return 0, fmt.Errorf("customerID is required")
	}
	if windowHours <= 0 {
		return 0, fmt.Errorf("window must be positive, got %dh", windowHours)
	}

	// Query the store on every call; a cached count would lag the window.
	since := s.now().Add(-time.Duration(windowHours) * time.Hour)

	count, err := s.store.CountRecent(ctx, customerID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
