package chainclock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/claimswap/claimswap/pkg/chainclock"
)

func TestManualAdvancesIndependently(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := chainclock.NewManual(start)

	require.Equal(t, start, c.Now())
	require.Equal(t, uint64(0), c.Height())

	c.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), c.Now())
	require.Equal(t, uint64(0), c.Height())

	c.AdvanceBlocks(45)
	require.Equal(t, start.Add(90*time.Second), c.Now())
	require.Equal(t, uint64(45), c.Height())

	c.Tick(10*time.Second, 5)
	require.Equal(t, start.Add(100*time.Second), c.Now())
	require.Equal(t, uint64(50), c.Height())
}

func TestSystemHeightTracksWallTime(t *testing.T) {
	t.Setenv("BLOCK_INTERVAL", "1ms")
	c := chainclock.NewSystem()

	h := c.Height()
	require.Eventually(t, func() bool { return c.Height() > h }, time.Second, 5*time.Millisecond)
	require.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
