package filter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perceptual-video/pvstream/pkg/types"
)

const (
	K = types.Keep
	D = types.Drop
)

func run(f Filter, metas []types.BufferMeta) []types.Decision {
	out := make([]types.Decision, len(metas))
	for i, m := range metas {
		out[i] = f.OnBuffer(m)
	}
	return out
}

func seqMetas(n int) []types.BufferMeta {
	metas := make([]types.BufferMeta, n)
	for i := range metas {
		metas[i] = types.BufferMeta{Seq: uint64(i + 1)}
	}
	return metas
}

func TestPeriodicPattern(t *testing.T) {
	tests := []struct {
		name     string
		interval uint64
		frames   int
		want     []types.Decision
	}{
		{"interval_4", 4, 8, []types.Decision{D, D, D, K, D, D, D, K}},
		{"interval_0_disabled", 0, 5, []types.Decision{K, K, K, K, K}},
		{"interval_1", 1, 5, []types.Decision{K, K, K, K, K}},
		{"interval_3", 3, 7, []types.Decision{D, D, K, D, D, K, D}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPeriodic(tt.interval)
			assert.Equal(t, tt.want, run(f, seqMetas(tt.frames)))
		})
	}
}

func TestPeriodicIgnoresFrameType(t *testing.T) {
	f := NewPeriodic(2)
	got := run(f, []types.BufferMeta{
		{Seq: 1, Delta: false},
		{Seq: 2, Delta: true},
	})
	assert.Equal(t, []types.Decision{D, K}, got)
}

func TestKeyframePattern(t *testing.T) {
	metas := []types.BufferMeta{
		{Seq: 1, Delta: false},
		{Seq: 2, Delta: true},
		{Seq: 3, Delta: true},
		{Seq: 4, Delta: false},
		{Seq: 5, Delta: true},
	}
	f := NewKeyframePriority()
	assert.Equal(t, []types.Decision{K, D, D, K, D}, run(f, metas))

	// Running the same flags again yields the same pattern regardless of prior state
	assert.Equal(t, []types.Decision{K, D, D, K, D}, run(f, metas))
}

func TestKeyframeHistory(t *testing.T) {
	f := NewKeyframePriority()
	_, _, ok := f.History()
	assert.False(t, ok)

	f.OnBuffer(types.BufferMeta{Seq: 1})
	f.OnBuffer(types.BufferMeta{Seq: 2, Delta: true})

	prev, cur, ok := f.History()
	require.True(t, ok)
	assert.Equal(t, uint64(1), prev.Seq)
	assert.Equal(t, uint64(2), cur.Seq)
}

func TestStats(t *testing.T) {
	f := NewPeriodic(4)
	run(f, seqMetas(8))
	s := f.Stats()
	assert.Equal(t, Stats{Evaluated: 8, Kept: 2, Dropped: 6}, s)
	assert.InDelta(t, 0.25, s.KeepRatio(), 1e-9)
	assert.Zero(t, Stats{}.KeepRatio())
}

func TestNew(t *testing.T) {
	f, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy, f.Policy())

	f, err = New(Config{Policy: "periodic", KeepInterval: 4})
	require.NoError(t, err)
	require.IsType(t, &Periodic{}, f)
	assert.Equal(t, uint64(4), f.(*Periodic).Interval())

	_, err = New(Config{Policy: "newest-wins"})
	assert.Error(t, err)
}

func TestPeriodicConcurrentCallsKeepExactCount(t *testing.T) {
	f := NewPeriodic(5)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				f.OnBuffer(types.BufferMeta{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, Stats{Evaluated: 8000, Kept: 1600, Dropped: 6400}, f.Stats())
}
