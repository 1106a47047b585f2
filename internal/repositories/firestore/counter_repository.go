package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/orchardlane/storefront/internal/platform/firestore"
	"github.com/orchardlane/storefront/internal/repositories"
)

const counterCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     int64     `firestore:"maxValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository allocates sequence values transactionally. The counter
// document is created on first use.
type CounterRepository struct {
	provider *pfirestore.Provider
	txOpts   []pfirestore.TxOption
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) *CounterRepository {
	return &CounterRepository{provider: provider, txOpts: txOpts}
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// Next advances the named counter by step and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, fmt.Errorf("counters.next: counter id is required")
	}
	if step <= 0 {
		step = 1
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := client.Collection(counterCollection).Doc(counterID)
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return pfirestore.WrapError("counters.next", err)
		}

		doc := counterDocument{Step: step}
		if snap != nil && snap.Exists() {
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("counters.next: decode counter %s: %w", counterID, err)
			}
		}

		next = doc.CurrentValue + step
		if doc.MaxValue > 0 && next > doc.MaxValue {
			return fmt.Errorf("counters.next: counter %s exhausted at %d", counterID, doc.MaxValue)
		}

		doc.CurrentValue = next
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("counters.next", err)
		}
		return nil
	}, r.txOpts...)
	if err != nil {
		return 0, err
	}
	return next, nil
}
