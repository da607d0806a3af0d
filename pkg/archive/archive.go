// Package archive persists terminal records to ClickHouse for analytics.
// The sink consumes lifecycle events off the bus; inserts are best-effort
// with backoff and can never block or fail an engine transition.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/claimswap/claimswap/pkg/events"
	"github.com/claimswap/claimswap/pkg/oracle"
	"github.com/claimswap/claimswap/pkg/retry"
	"github.com/claimswap/claimswap/pkg/swap"
	"github.com/claimswap/claimswap/pkg/utils"
)

const settledReportsDDL = `
CREATE TABLE IF NOT EXISTS settled_reports (
	report_id UInt64 CODEC(DoubleDelta, LZ4),
	token1 String CODEC(ZSTD(1)),
	token2 String CODEC(ZSTD(1)),
	amount1 String CODEC(ZSTD(1)),
	amount2 String CODEC(ZSTD(1)),
	price String CODEC(ZSTD(1)),
	rounds UInt64,
	settled_at DateTime64(6) CODEC(DoubleDelta, LZ4)
) ENGINE = ReplacingMergeTree
ORDER BY report_id`

const finishedSwapsDDL = `
CREATE TABLE IF NOT EXISTS finished_swaps (
	swap_id UInt64 CODEC(DoubleDelta, LZ4),
	report_id UInt64 CODEC(DoubleDelta, LZ4),
	swapper String CODEC(ZSTD(1)),
	matcher String CODEC(ZSTD(1)),
	sell_token String CODEC(ZSTD(1)),
	buy_token String CODEC(ZSTD(1)),
	sell_amt String CODEC(ZSTD(1)),
	fulfillment_fee UInt64,
	outcome LowCardinality(String),
	finished_at DateTime64(6) CODEC(DoubleDelta, LZ4)
) ENGINE = ReplacingMergeTree
ORDER BY swap_id`

type Archive struct {
	logger *zap.Logger
	conn   driver.Conn
	oracle *oracle.Engine
	swaps  *swap.Engine
}

// New connects to ClickHouse using CLICKHOUSE_ADDR / CLICKHOUSE_DATABASE /
// CLICKHOUSE_USERNAME / CLICKHOUSE_PASSWORD and creates the archive tables.
func New(ctx context.Context, logger *zap.Logger, orc *oracle.Engine, swaps *swap.Engine) (*Archive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{utils.Env("CLICKHOUSE_ADDR", "localhost:9000")},
		Auth: clickhouse.Auth{
			Database: utils.Env("CLICKHOUSE_DATABASE", "claimswap"),
			Username: utils.Env("CLICKHOUSE_USERNAME", "default"),
			Password: utils.Env("CLICKHOUSE_PASSWORD", ""),
		},
		DialTimeout:  10 * time.Second,
		MaxOpenConns: utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 5),
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	for _, ddl := range []string{settledReportsDDL, finishedSwapsDDL} {
		if err := conn.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("clickhouse ddl: %w", err)
		}
	}
	logger.Info("ClickHouse archive ready")
	return &Archive{logger: logger.Named("archive"), conn: conn, oracle: orc, swaps: swaps}, nil
}

func (a *Archive) Close() error { return a.conn.Close() }

// Run consumes lifecycle events until ctx is done.
func (a *Archive) Run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.consume(ctx, ev)
		}
	}
}

func (a *Archive) consume(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.TypeReportSettled:
		a.insertReport(ctx, ev.ReportID)
	case events.TypeSwapSettled, events.TypeSwapRefunded, events.TypeSwapBailout, events.TypeSwapCancelled:
		a.insertSwap(ctx, ev.SwapID, outcome(ev.Type))
	}
}

func outcome(evType string) string {
	switch evType {
	case events.TypeSwapSettled:
		return "settled"
	case events.TypeSwapRefunded:
		return "refunded"
	case events.TypeSwapBailout:
		return "bailout"
	default:
		return "cancelled"
	}
}

func (a *Archive) insertReport(ctx context.Context, reportID uint64) {
	meta, err := a.oracle.ReportMeta(reportID)
	if err != nil {
		return
	}
	st, err := a.oracle.ReportStatus(reportID)
	if err != nil || !st.Distributed {
		return
	}
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 3
	err = retry.WithBackoff(ctx, cfg, a.logger, "archive settled report", func() error {
		return a.conn.AsyncInsert(ctx,
			`INSERT INTO settled_reports (report_id, token1, token2, amount1, amount2, price, rounds, settled_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, false,
			reportID,
			meta.Params.Token1.Hex(),
			meta.Params.Token2.Hex(),
			st.Amount1.String(),
			st.Amount2.String(),
			st.Price.String(),
			st.Rounds,
			time.Now().UTC(),
		)
	})
	if err != nil {
		a.logger.Warn("Report archive insert failed", zap.Uint64("reportId", reportID), zap.Error(err))
	}
}

func (a *Archive) insertSwap(ctx context.Context, swapID uint64, outcome string) {
	v, err := a.swaps.Get(swapID)
	if err != nil {
		return
	}
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 3
	err = retry.WithBackoff(ctx, cfg, a.logger, "archive finished swap", func() error {
		return a.conn.AsyncInsert(ctx,
			`INSERT INTO finished_swaps (swap_id, report_id, swapper, matcher, sell_token, buy_token, sell_amt, fulfillment_fee, outcome, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, false,
			swapID,
			v.ReportID,
			v.Terms.Swapper.Hex(),
			v.Matcher.Hex(),
			v.Terms.SellToken.Hex(),
			v.Terms.BuyToken.Hex(),
			v.Terms.SellAmt.String(),
			v.FulfillmentFee,
			outcome,
			time.Now().UTC(),
		)
	})
	if err != nil {
		a.logger.Warn("Swap archive insert failed", zap.Uint64("swapId", swapID), zap.Error(err))
	}
}
