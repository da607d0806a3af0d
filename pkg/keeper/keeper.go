// Package keeper runs the permissionless maintenance loop: settling every
// report whose window has elapsed and bailing out every eligible swap. Both
// entry points are designed to be callable by anyone, so the daemon simply
// calls them itself on a schedule.
package keeper

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/claimswap/claimswap/pkg/fault"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/swap"
	"github.com/claimswap/claimswap/pkg/token"
	"github.com/claimswap/claimswap/pkg/utils"
)

type Keeper struct {
	logger *zap.Logger
	oracle *oracle.Engine
	swaps  *swap.Engine

	cron   *cron.Cron
	pool   pond.Pool
	paused atomic.Bool
}

func New(logger *zap.Logger, orc *oracle.Engine, swaps *swap.Engine) *Keeper {
	return &Keeper{
		logger: logger.Named("keeper"),
		oracle: orc,
		swaps:  swaps,
		pool: pond.NewPool(
			utils.EnvInt("KEEPER_WORKERS", 8),
			pond.WithQueueSize(utils.EnvInt("KEEPER_QUEUE_SIZE", 1024)),
		),
	}
}

// Start schedules the sweep. KEEPER_CRON defaults to every 15 seconds.
func (k *Keeper) Start(ctx context.Context) error {
	spec := utils.Env("KEEPER_CRON", "*/15 * * * * *")
	k.cron = cron.New(cron.WithSeconds())
	if _, err := k.cron.AddFunc(spec, func() { k.Sweep(ctx) }); err != nil {
		return err
	}
	k.cron.Start()
	k.logger.Info("Keeper started", zap.String("cron", spec))
	return nil
}

func (k *Keeper) Stop() {
	if k.cron != nil {
		<-k.cron.Stop().Done()
	}
	k.pool.StopAndWait()
}

func (k *Keeper) Pause()       { k.paused.Store(true) }
func (k *Keeper) Resume()      { k.paused.Store(false) }
func (k *Keeper) Paused() bool { return k.paused.Load() }

// Sweep submits one settle attempt per live report and one bailout attempt
// per live swap. Rejections for closed windows are the normal case and are
// not logged.
func (k *Keeper) Sweep(ctx context.Context) {
	if k.paused.Load() {
		return
	}
	settler := token.ModuleAddress("keeper")

	k.oracle.Range(func(id uint64, st oracle.Status) bool {
		if st.Distributed || st.Amount2 == nil || st.Amount2.Sign() == 0 {
			return true
		}
		k.pool.Submit(func() {
			if _, err := k.oracle.Settle(ctx, id, settler); err != nil && !expected(err) {
				k.logger.Warn("Keeper settle failed", zap.Uint64("reportId", id), zap.Error(err))
			}
		})
		return true
	})

	k.swaps.Range(func(v swap.View) bool {
		if !v.Matched || v.Finished {
			return true
		}
		id := v.ID
		k.pool.Submit(func() {
			if err := k.swaps.BailOut(ctx, id); err != nil && !expected(err) {
				k.logger.Warn("Keeper bailout failed", zap.Uint64("swapId", id), zap.Error(err))
			}
		})
		return true
	})
}

func expected(err error) bool {
	return errors.Is(err, fault.ErrTiming) || errors.Is(err, fault.ErrStateConflict)
}
