package compaction

import (
	"testing"
	"time"

	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/stretchr/testify/assert"
)

func TestDefaultThresholds(t *testing.T) {
	p := DefaultThresholds()

	tests := []struct {
		fill, chunk int
		want        time.Duration
	}{
		{85, 90, 0},
		{81, 81, 0},
		{80, 95, 100 * time.Millisecond}, // 80 is not above 80
		{70, 65, 100 * time.Millisecond},
		{95, 61, 100 * time.Millisecond},
		{95, 60, 300 * time.Millisecond},
		{50, 90, 300 * time.Millisecond},
		{0, 0, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		got := p.Budget(Fixed{Fill: tt.fill, Chunk: tt.chunk})
		assert.Equal(t, tt.want, got, "fill=%d chunk=%d", tt.fill, tt.chunk)
	}
}

func TestPolicyFunc(t *testing.T) {
	var seen store.Fragmentation
	p := PolicyFunc(func(f store.Fragmentation) time.Duration {
		seen = f
		return time.Second
	})

	in := Fixed{Fill: 1, Chunk: 2}
	assert.Equal(t, time.Second, p.Budget(in))
	assert.Equal(t, in, seen)
}
