package cache

import (
	"context"
	"time"

	"kasirinaja/ledger/internal/domain"
)

// SaleCache keeps recently committed sales keyed by reference so replayed
// submissions can be answered without a database round trip.
type SaleCache interface {
	Get(ctx context.Context, reference string) (*domain.CommittedSale, bool, error)
	Set(ctx context.Context, sale *domain.CommittedSale, ttl time.Duration) error
	Delete(ctx context.Context, reference string) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string) (*domain.CommittedSale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.CommittedSale, _ time.Duration) error {
	return nil
}

func (NoopSaleCache) Delete(_ context.Context, _ string) error {
	return nil
}
