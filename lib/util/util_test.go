package util

import (
	"strconv"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("abc", 1), HashString("abc", 1))
	assert.NotEqual(t, HashString("abc", 1), HashString("abc", 2))
	assert.NotEqual(t, HashString("abc", 1), HashString("abd", 1))

	assert.Equal(t, ShortHash("/home/dev/libs"), ShortHash("/home/dev/libs"))
	assert.NotEqual(t, ShortHash("/a"), ShortHash("/b"))
	assert.Equal(t, strconv.FormatUint(xxhash.Sum64String("/a"), 36), ShortHash("/a"))
}

func TestNewStats(t *testing.T) {
	assert.Equal(t, Stats{}, NewStats(nil))
	assert.Equal(t, Stats{Min: 1, Max: 5, Mean: 3, Total: 9}, NewStats([]float64{5, 1, 3}))
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	assert.Zero(t, h.AverageSize())
	assert.Zero(t, h.MedianEstimate())

	var wg sync.WaitGroup
	for _, size := range []int{10, 10, 100} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.AddSample(size)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), h.Count())
	assert.Equal(t, int64(120), h.Sum())
	assert.Equal(t, 40, h.AverageSize())
	assert.Equal(t, 8, h.MedianEstimate())
	assert.Equal(t, 160, h.PercentileEstimate(100))
	assert.Zero(t, h.PercentileEstimate(101))

	h.AddSample(1 << 30)
	assert.Equal(t, 16777216*2, h.PercentileEstimate(100))
}
