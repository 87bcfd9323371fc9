package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RestockJob periodically tops up a fixed set of products, standing in for
// the source system's periodic restock task. It reuses Store.Restock, so
// it shares the single writer lock with every other mutation path.
type RestockJob struct {
	store    *Store
	products []string
	amount   int
	interval time.Duration
	service  *Service
}

// NewRestockJob builds a restock job over the given products.
func NewRestockJob(store *Store, service *Service, products []string, amount int, interval time.Duration) *RestockJob {
	return &RestockJob{store: store, service: service, products: products, amount: amount, interval: interval}
}

// Run restocks every configured product once per interval until ctx is
// cancelled.
func (j *RestockJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range j.products {
				p := j.store.Restock(name, j.amount)
				log.Debug().Str("product", name).Int("quantity", p.Quantity).Msg("catalog: restocked")
				if j.service != nil {
					j.service.invalidateFrontendCache(ctx, name)
				}
			}
		}
	}
}
