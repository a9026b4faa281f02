package budget

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
)

// Registrar is the part of the bus handlers are registered on.
type Registrar interface {
	RegisterHandler(messageType string, handler commbus.HandlerFunc) error
}

// RegisterHandlers answers GetBudgetStatus from cache and drops cache entries
// on InvalidateBudget. tracker supplies spend and limit figures when set.
func RegisterHandlers(bus Registrar, cache *Cache, tracker *Tracker) error {
	err := bus.RegisterHandler("GetBudgetStatus", func(ctx context.Context, msg commbus.Message) (any, error) {
		q, ok := msg.(*commbus.GetBudgetStatus)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T", msg)
		}
		status, err := cache.Status(ctx, q.VentureID)
		if err != nil {
			return nil, err
		}
		resp := &commbus.BudgetStatusResponse{
			VentureID:    q.VentureID,
			UsagePercent: status.UsagePercent,
			OverBudget:   status.OverBudget,
		}
		if tracker != nil {
			if acct, ok := tracker.Account(q.VentureID); ok {
				resp.SpentUSD = acct.SpentUSD
				resp.LimitUSD = acct.LimitUSD
			}
		}
		return resp, nil
	})
	if err != nil {
		return err
	}

	return bus.RegisterHandler("InvalidateBudget", func(_ context.Context, msg commbus.Message) (any, error) {
		cmd, ok := msg.(*commbus.InvalidateBudget)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T", msg)
		}
		cache.Invalidate(cmd.VentureID)
		return nil, nil
	})
}
