package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, DefaultInitialSize, m.CurrentSize())
	assert.Empty(t, m.History())

	clamped := New(Config{InitialSize: 1, MinSize: 4096, MaxSize: 8192})
	assert.Equal(t, 4096, clamped.CurrentSize())
}

func TestRecord_IncreasingThroughputGrowsBuffer(t *testing.T) {
	m := New(DefaultConfig())

	m.Record(1_000)
	m.Record(2_000)
	assert.Equal(t, DefaultInitialSize, m.CurrentSize(), "no adjustment before three samples")

	m.Record(3_000)
	assert.Equal(t, 2*DefaultInitialSize, m.CurrentSize())
}

func TestRecord_DecreasingThroughputShrinksBuffer(t *testing.T) {
	m := New(DefaultConfig())

	m.Record(3_000)
	m.Record(2_000)
	m.Record(1_000)
	assert.Equal(t, DefaultInitialSize/2, m.CurrentSize())
}

func TestRecord_RespectsBounds(t *testing.T) {
	r := require.New(t)

	grow := New(Config{InitialSize: 64 * 1024, MinSize: 8 * 1024, MaxSize: 128 * 1024})
	for i := 1; i <= 6; i++ {
		grow.Record(float64(i * 1000))
		r.LessOrEqual(grow.CurrentSize(), 128*1024)
	}
	r.Equal(128*1024, grow.CurrentSize())

	shrink := New(Config{InitialSize: 16 * 1024, MinSize: 8 * 1024, MaxSize: 128 * 1024})
	for i := 6; i >= 1; i-- {
		shrink.Record(float64(i * 1000))
		r.GreaterOrEqual(shrink.CurrentSize(), 8*1024)
	}
	r.Equal(8*1024, shrink.CurrentSize())
}

func TestRecord_AdoptsBestHistoricalSize(t *testing.T) {
	m := New(DefaultConfig())

	// Growth to 128 KiB, then flat samples at that size.
	m.Record(1_000)
	m.Record(2_000)
	m.Record(9_000) // strictly increasing: 64 KiB -> 128 KiB, best sample was at 64 KiB
	require.Equal(t, 128*1024, m.CurrentSize())

	m.Record(1_000) // 9000 > 1000 but 2000 < 9000: no trend
	m.Record(1_000) // flat, five samples: best (9000 at 64 KiB) beats the recent average by more than 10%
	assert.Equal(t, 64*1024, m.CurrentSize())
}

func TestRecord_IgnoresNonPositive(t *testing.T) {
	m := New(DefaultConfig())
	m.Record(0)
	m.Record(-5)
	assert.Empty(t, m.History())
}

func TestHistory_IsBounded(t *testing.T) {
	m := New(Config{HistorySize: 4})
	for i := 0; i < 10; i++ {
		m.Record(1_000)
	}
	assert.Len(t, m.History(), 4)
}

func TestRecommendForFileSize(t *testing.T) {
	m := New(DefaultConfig())

	tests := []struct {
		name string
		size int64
		want int
	}{
		{"unknown size", 0, DefaultInitialSize},
		{"small file", 512 * 1024, DefaultInitialSize / 2},
		{"medium file", 10 * 1024 * 1024, DefaultInitialSize},
		{"large file", 200 * 1024 * 1024, DefaultMaxSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.RecommendForFileSize(tt.size))
		})
	}

	small := New(Config{InitialSize: 8 * 1024})
	assert.Equal(t, DefaultMinSize, small.RecommendForFileSize(100), "never below the minimum")
}

func TestManager_ConcurrentUse(t *testing.T) {
	m := New(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Record(float64(1000 + i))
			_ = m.RecommendForFileSize(int64(i) * 1024 * 1024)
		}(i)
	}
	wg.Wait()

	size := m.CurrentSize()
	assert.GreaterOrEqual(t, size, DefaultMinSize)
	assert.LessOrEqual(t, size, DefaultMaxSize)
}
