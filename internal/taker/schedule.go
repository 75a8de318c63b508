package taker

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/rawblock/coinjoind/pkg/models"
)

// ScheduleEntry is one tumbler step: send AmountFraction of the mixdepth's
// current balance to DestinationAddr after rotating into Mixdepth (spec.md
// §4.4 "Tumbler/schedule mode"). The schedule format itself is an external
// concern; this type is the collaborator contract a schedule source must
// produce.
type ScheduleEntry struct {
	Mixdepth        int
	DestinationAddr string
	AmountFraction  float64 // fraction of the mixdepth's available balance
	WaitBefore      time.Duration
	N               int
}

// BalanceLookup resolves a mixdepth's spendable balance and its available
// input set, so the scheduler can turn an AmountFraction into a concrete
// RunRequest without owning wallet logic itself.
type BalanceLookup func(mixdepth int) (balanceSats int64, inputs []UTXOWithKey, err error)

// UTXOWithKey pairs a taker input with the PoDLE commitment key derived
// from owning it.
type UTXOWithKey struct {
	Txid  string
	Vout  uint32
	Value int64
	Priv  *big.Int
}

// RunSchedule sequentially drives one run per ScheduleEntry, waiting
// WaitBefore between entries (a rescan delay, per spec). It stops at the
// first failed entry and returns the outcomes collected so far.
func (e *Engine) RunSchedule(ctx context.Context, schedule []ScheduleEntry, balances BalanceLookup, changeAddr func(mixdepth int) string) ([]*RunResult, error) {
	var results []*RunResult

	for i, entry := range schedule {
		if entry.WaitBefore > 0 {
			log.Printf("[taker] schedule: waiting %s before entry %d/%d", entry.WaitBefore, i+1, len(schedule))
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(entry.WaitBefore):
			}
		}

		balance, inputs, err := balances(entry.Mixdepth)
		if err != nil {
			return results, fmt.Errorf("schedule entry %d: balance lookup: %w", i, err)
		}
		if len(inputs) == 0 {
			return results, fmt.Errorf("schedule entry %d: mixdepth %d has no spendable inputs", i, entry.Mixdepth)
		}

		amount := int64(entry.AmountFraction * float64(balance))
		if amount < e.Config.DustThreshold {
			return results, fmt.Errorf("schedule entry %d: computed amount %d below dust threshold", i, amount)
		}

		req := RunRequest{
			Amount:          amount,
			N:               entry.N,
			CJDestination:   entry.DestinationAddr,
			ChangeAddress:   changeAddr(entry.Mixdepth + 1),
			PoDLECommitPriv: inputs[0].Priv,
		}
		for _, in := range inputs {
			req.TakerInputs = append(req.TakerInputs, sessionUTXOFrom(in))
		}

		outcome, runErr := e.Run(ctx, req)
		results = append(results, &RunResult{Entry: entry, Outcome: outcome, Err: runErr})
		if runErr != nil {
			return results, fmt.Errorf("schedule entry %d: %w", i, runErr)
		}
	}

	return results, nil
}

// RunResult pairs a schedule entry with its run outcome.
type RunResult struct {
	Entry   ScheduleEntry
	Outcome *models.CoinJoinRunOutcome
	Err     error
}

func sessionUTXOFrom(u UTXOWithKey) models.SignedUTXO {
	return models.SignedUTXO{
		UTXORef: models.UTXORef{Txid: u.Txid, Vout: u.Vout},
		Value:   u.Value,
	}
}
