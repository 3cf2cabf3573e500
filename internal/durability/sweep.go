package durability

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Sweep promotes every ParkedToken whose timeout has passed to expired
// and resumes its runbook with a synthetic ParkTimeout outcome,
// letting the step fail or escalate per the verb's own policy. It
// returns the number of tokens swept.
func Sweep(ctx context.Context, store Store, resume Resumer, log logr.Logger) (int, error) {
	expired, err := store.ListExpiredParkedTokens(ctx, time.Now().Unix())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range expired {
		if err := store.UpdateParkedTokenStatus(ctx, t.Token, ParkedExpired); err != nil {
			log.Error(err, "expiring parked token", "token", t.Token, "runbook_id", t.RunbookID)
			continue
		}
		if err := store.UpdateCorrelationStatus(ctx, t.CorrelationKey, CorrelationFailed); err != nil {
			log.Error(err, "marking correlation failed after expiry", "correlation_key", t.CorrelationKey)
		}
		if resume != nil {
			result := TaskResult{
				TaskID:         t.Token,
				Status:         TaskExpired,
				IdempotencyKey: "sweep:" + t.Token,
			}
			if err := resume(ctx, t, result); err != nil {
				log.Error(err, "resuming runbook after park timeout", "runbook_id", t.RunbookID, "step_index", t.StepIndex)
			}
		}
		count++
	}
	return count, nil
}

// RunSweepLoop runs Sweep on interval until ctx is cancelled, the shape
// a process entrypoint starts as a background goroutine.
func RunSweepLoop(ctx context.Context, store Store, resume Resumer, interval time.Duration, log logr.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := Sweep(ctx, store, resume, log); err != nil {
				log.Error(err, "parked token sweep failed")
			}
		}
	}
}
