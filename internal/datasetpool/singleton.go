package datasetpool

import "sync"

var (
	singletonMu sync.Mutex
	singleton   *Pool
)

// Claim returns the process-wide Pool, creating it on the first call.
// Every call, the first included, bumps the pool's reference count unless
// the pool's recursion guard is raised (a Claim made from inside the
// pool's own Opener.Open/Close), in which case the count is unchanged.
// Every successful Claim must be matched by exactly one Release.
//
// The pool size is resolved once, at creation time, from config via
// GDAL_MAX_DATASET_POOL_SIZE; later calls to Claim do not re-read it.
func Claim(opener Opener, owners OwnerRegistry, config ConfigSource) *Pool {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton == nil {
		size := clampMaxSize(config.Int(maxSizeConfigKey, DefaultPoolSize))
		singleton = newPool(size, opener, owners, config)
	}

	singleton.mu.Lock()
	if singleton.recursionGuard == 0 {
		singleton.poolRefCount++
	}
	singleton.mu.Unlock()

	return singleton
}

// Release drops one reference acquired via Claim. Once the reference
// count reaches zero and no PreventDestroy region is active, the pool's
// entries are all closed and the singleton is torn down; a later Claim
// starts a fresh pool.
func Release() {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton == nil {
		return
	}

	p := singleton
	p.mu.Lock()
	if p.recursionGuard == 0 {
		p.poolRefCount--
	}
	shouldDestroy := p.poolRefCount <= 0 && p.preventDestroyDepth == 0
	if shouldDestroy {
		p.destroyLocked()
	}
	p.mu.Unlock()

	if shouldDestroy {
		singleton = nil
	}
}

// PreventDestroy suspends automatic teardown of the singleton even if its
// reference count drops to zero, for the duration of a bracketed shutdown
// sequence the caller controls. Pair with ForceDestroy.
func PreventDestroy() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		return
	}
	singleton.mu.Lock()
	singleton.preventDestroyDepth++
	singleton.mu.Unlock()
}

// ForceDestroy lifts one PreventDestroy suspension and, if the reference
// count is already at or below zero, tears the pool down immediately.
func ForceDestroy() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		return
	}

	p := singleton
	p.mu.Lock()
	if p.preventDestroyDepth > 0 {
		p.preventDestroyDepth--
	}
	shouldDestroy := p.poolRefCount <= 0 && p.preventDestroyDepth == 0
	if shouldDestroy {
		p.destroyLocked()
	}
	p.mu.Unlock()

	if shouldDestroy {
		singleton = nil
	}
}

// resetSingletonForTest tears down and clears the process-wide singleton
// unconditionally. Exposed only to _test.go files in this package via
// export_test.go.
func resetSingletonForTest() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		singleton.mu.Lock()
		singleton.destroyLocked()
		singleton.mu.Unlock()
	}
	singleton = nil
}
