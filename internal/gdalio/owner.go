package gdalio

import (
	"sync/atomic"

	"github.com/rasterpool/gomosaic/internal/datasetpool"
)

var nextOwnerID int64

// NewOwnerID returns a fresh OwnerID, used by every top-level proxy that
// does not request to share an owner with another proxy explicitly.
func NewOwnerID() datasetpool.OwnerID {
	return datasetpool.OwnerID(atomic.AddInt64(&nextOwnerID, 1))
}

// Owners implements datasetpool.OwnerRegistry. GDAL itself keys
// "responsible thread" bookkeeping off the OS thread id; goroutines have
// no equivalent stable identity, so this tracks a single process-wide
// "currently impersonated owner" value instead. That is sufficient for
// the pool's purposes because Impersonate/Restore are only ever read
// back by the same goroutine that just called Impersonate, within the
// window the Pool's mutex is released around a single Open/Close call
// (see SPEC_FULL.md §5).
type Owners struct {
	current atomic.Int64
}

func NewOwners() *Owners {
	return &Owners{}
}

func (o *Owners) Impersonate(id datasetpool.OwnerID) datasetpool.OwnerID {
	prev := datasetpool.OwnerID(o.current.Load())
	o.current.Store(int64(id))
	return prev
}

func (o *Owners) Restore(prev datasetpool.OwnerID) {
	o.current.Store(int64(prev))
}

// Current reports the owner currently impersonated, for diagnostics.
func (o *Owners) Current() datasetpool.OwnerID {
	return datasetpool.OwnerID(o.current.Load())
}
