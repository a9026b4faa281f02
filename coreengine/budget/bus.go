package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/filter"
)

// invalidateTimeout bounds one InvalidateBudget command.
const invalidateTimeout = time.Second

// BusSource reads budget status through GetBudgetStatus queries, so every
// read passes the bus middleware.
type BusSource struct {
	bus commbus.Querier
}

// NewBusSource creates a Source backed by bus.
func NewBusSource(bus commbus.Querier) *BusSource {
	return &BusSource{bus: bus}
}

// BudgetStatus implements Source.
func (s *BusSource) BudgetStatus(ctx context.Context, ventureID string) (filter.BudgetStatus, error) {
	v, err := s.bus.QuerySync(ctx, &commbus.GetBudgetStatus{VentureID: ventureID})
	if err != nil {
		return filter.BudgetStatus{}, err
	}
	resp, ok := v.(*commbus.BudgetStatusResponse)
	if !ok {
		return filter.BudgetStatus{}, fmt.Errorf("unexpected budget response %T", v)
	}
	return filter.BudgetStatus{OverBudget: resp.OverBudget, UsagePercent: resp.UsagePercent}, nil
}

// BusInvalidator turns invalidations into InvalidateBudget commands.
type BusInvalidator struct {
	bus    commbus.Sender
	logger Logger
}

// NewBusInvalidator creates an Invalidator backed by bus. logger may be nil.
func NewBusInvalidator(bus commbus.Sender, logger Logger) *BusInvalidator {
	return &BusInvalidator{bus: bus, logger: logger}
}

// Invalidate implements Invalidator. Failures are logged; the cache entry
// then expires on its TTL.
func (i *BusInvalidator) Invalidate(ventureID string) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := i.bus.Send(ctx, &commbus.InvalidateBudget{VentureID: ventureID}); err != nil && i.logger != nil {
		i.logger.Warn("budget_invalidate_failed", "venture_id", ventureID, "error", err.Error())
	}
}

var (
	_ Source      = (*BusSource)(nil)
	_ Invalidator = (*BusInvalidator)(nil)
)
