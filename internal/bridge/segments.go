package bridge

import (
	"context"
	"slices"
	"sync"

	"github.com/correlator-io/sdbridge/internal/detection"
)

type (
	// SegmentCache indexes the wfdiscs backing each channel segment referenced by an
	// assembled hypothesis, so waveform consumers can resolve a segment without re-running
	// the bridge.
	SegmentCache interface {
		Add(ctx context.Context, segment detection.SegmentDescriptor, wfid int64) error
		Lookup(ctx context.Context, segment detection.SegmentDescriptor) ([]int64, error)
	}

	// MemorySegmentCache is the default process-local SegmentCache.
	MemorySegmentCache struct {
		mu       sync.RWMutex
		segments map[string][]int64
	}
)

// NewMemorySegmentCache creates an empty cache.
func NewMemorySegmentCache() *MemorySegmentCache {
	return &MemorySegmentCache{segments: make(map[string][]int64)}
}

// Add records wfid for the segment. Adding the same pair twice is a no-op.
func (c *MemorySegmentCache) Add(_ context.Context, segment detection.SegmentDescriptor, wfid int64) error {
	key := segment.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.Contains(c.segments[key], wfid) {
		return nil
	}

	c.segments[key] = append(c.segments[key], wfid)

	return nil
}

// Lookup returns the wfids recorded for the segment in ascending order.
func (c *MemorySegmentCache) Lookup(_ context.Context, segment detection.SegmentDescriptor) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := slices.Clone(c.segments[segment.String()])
	slices.Sort(out)

	return out, nil
}
