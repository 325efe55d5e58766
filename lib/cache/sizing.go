package cache

import (
	"github.com/pbnjay/memory"
)

const gib = 1 << 30

// Sizing derives a cache capacity from the machine's total memory: Baseline
// entries for the first memory unit, Increment more for every additional
// unit, capped at Baseline*MaxMultiplier.
type Sizing struct {
	Baseline      int    // Entries for one memory unit or less
	Increment     int    // Entries added per additional unit
	Unit          uint64 // Bytes per memory unit (0 = 1 GiB)
	MaxMultiplier int    // Upper bound as a multiple of Baseline (0 = uncapped)
}

// DefaultSizing returns the sizing used for the read-through and interning caches
func DefaultSizing() Sizing {
	return Sizing{
		Baseline:      1024,
		Increment:     512,
		Unit:          gib,
		MaxMultiplier: 8,
	}
}

// Capacity returns the capacity for the memory of this machine
func (s Sizing) Capacity() int {
	return s.CapacityFor(memory.TotalMemory())
}

// CapacityFor returns the capacity for totalMemory bytes. It is at least 1.
func (s Sizing) CapacityFor(totalMemory uint64) int {
	unit := s.Unit
	if unit == 0 {
		unit = gib
	}

	capacity := s.Baseline
	if units := totalMemory / unit; units > 1 {
		capacity += int(units-1) * s.Increment
	}
	if s.MaxMultiplier > 0 && capacity > s.Baseline*s.MaxMultiplier {
		capacity = s.Baseline * s.MaxMultiplier
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}
