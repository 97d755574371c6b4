// Package datasetpool implements a process-wide, bounded LRU cache of
// lazily-opened, reference-counted dataset handles.
//
// The pool never opens or closes anything itself: it delegates to an
// Opener and attributes opens/closes to the calling owner through an
// OwnerRegistry, exactly the way the surrounding dataset registry expects.
// Everything here is generic over the notion of a "dataset" so that the
// mechanics can be exercised without pulling in GDAL; see package gdalio
// for the concrete wiring used by the rest of this module.
package datasetpool

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AccessMode mirrors the read-only / read-write distinction used when a
// dataset is first opened.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	Update
)

// OwnerID is an opaque identity attributing a cache entry's open (and any
// auxiliary opens it transitively causes) to whoever is responsible for it.
//
// GDAL itself derives this from an OS thread id; goroutines have no such
// stable identity, so here it is whatever the caller says it is. A fresh
// OwnerID per top-level proxy gives the "isolated across threads" behavior
// of the original; passing the same OwnerID to several proxies reproduces
// its "shared within one thread" behavior. See DESIGN.md.
type OwnerID int64

// Dataset is an opaque handle to whatever the Opener produced. The pool
// never looks inside it.
type Dataset interface{}

// Opener is the external dataset-opening subsystem. Open may block; Close
// is infallible from the pool's point of view.
type Opener interface {
	Open(description string, access AccessMode, openOptions []string) (Dataset, error)
	Close(ds Dataset)
}

// OwnerRegistry lets the pool re-impersonate the owner responsible for a
// cache entry while closing it, so bookkeeping in the surrounding registry
// is attributed correctly.
type OwnerRegistry interface {
	Impersonate(id OwnerID) (previous OwnerID)
	Restore(previous OwnerID)
}

// ConfigSource resolves a single integer configuration key with a default.
type ConfigSource interface {
	Int(key string, def int) int
}

const (
	// MinPoolSize and MaxPoolSize bound the accepted GDAL_MAX_DATASET_POOL_SIZE
	// configuration value; out-of-range values fall back to DefaultPoolSize.
	MinPoolSize     = 2
	MaxPoolSize     = 1000
	DefaultPoolSize = 100

	maxSizeConfigKey = "GDAL_MAX_DATASET_POOL_SIZE"
)

// ErrPoolExhausted is returned when every entry is leased and no victim is
// available for eviction.
var ErrPoolExhausted = errors.New("datasetpool: pool exhausted")

// cacheEntry is owned exclusively by the Pool while linked into its LRU
// chain. See the state machine described in the package's design notes:
// Empty (unlinked) -> Active (ref_count>=1) -> Idle (ref_count==0) -> back
// to Active (reuse) or Recycled (description cleared on eviction) or Empty
// (pool teardown).
type cacheEntry struct {
	description string
	access      AccessMode
	openOptions []string
	ownerID     OwnerID
	underlying  Dataset
	refCount    int

	// opening is set for the duration of the Opener.Open call that
	// populates underlying for the first time. A concurrent AcquireLease
	// that would otherwise reuse this entry (shared, same owner) instead
	// waits on cond until opening clears, rather than being handed a
	// Lease whose dataset is still nil.
	opening bool

	prev, next *cacheEntry
}

// Pool is the bounded LRU of opened datasets described in the package
// doc. All exported methods lock mu, but since sync.Mutex is not
// reentrant, AcquireLease, CloseNamed and eviction release it (with
// recursionGuard raised) around each Opener.Open/Close call and reacquire
// it afterwards (see DESIGN.md "Recursive mutex resolution"). Teardown
// (destroyLocked) calls Opener.Close with mu held.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	opener Opener
	owners OwnerRegistry
	config ConfigSource

	maxSize     int
	currentSize int
	head, tail  *cacheEntry

	// poolRefCount is bumped by every top-level proxy's constructor and
	// dropped by its destructor, unless recursionGuard is non-zero.
	poolRefCount int

	// recursionGuard is raised around every Opener.Open/Close call the pool
	// itself makes. While raised, Claim/Release are no-ops on poolRefCount,
	// so a proxy constructed transitively during one of those calls (an
	// "inner" proxy) cannot pin the pool.
	recursionGuard int

	// preventDestroyDepth brackets a region, set by the surrounding
	// registry's shutdown sequence, during which the pool must not tear
	// itself down even if poolRefCount reaches zero.
	preventDestroyDepth int
}

func newPool(maxSize int, opener Opener, owners OwnerRegistry, config ConfigSource) *Pool {
	p := &Pool{
		opener:  opener,
		owners:  owners,
		config:  config,
		maxSize: maxSize,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// clampMaxSize applies the same out-of-range fallback GDAL uses for
// GDAL_MAX_DATASET_POOL_SIZE.
func clampMaxSize(v int) int {
	if v < MinPoolSize || v > MaxPoolSize {
		return DefaultPoolSize
	}
	return v
}

// linkFront unlinks entry from wherever it currently sits (if anywhere)
// and relinks it at the head of the chain.
func (p *Pool) linkFront(entry *cacheEntry) {
	if entry == p.head {
		return
	}
	p.unlink(entry)
	entry.prev = nil
	entry.next = p.head
	if p.head != nil {
		p.head.prev = entry
	}
	p.head = entry
	if p.tail == nil {
		p.tail = entry
	}
}

// unlink removes entry from the chain without touching currentSize. It is
// a no-op for an entry that is not currently linked anywhere reachable
// from head/tail (callers only ever pass linked entries).
func (p *Pool) unlink(entry *cacheEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else if p.head == entry {
		p.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else if p.tail == entry {
		p.tail = entry.prev
	}
	entry.prev, entry.next = nil, nil
}

// CheckInvariants panics if any of the Pool's documented invariants has
// been violated. Intended for tests and debug builds, grounded on the same
// self-check pattern gcsfuse's lrucache.Cache uses.
func (p *Pool) CheckInvariants() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkInvariantsLocked()
}

func (p *Pool) checkInvariantsLocked() {
	if p.currentSize < 0 || p.currentSize > p.maxSize {
		panic(errors.Errorf("datasetpool: currentSize %d out of bounds for maxSize %d", p.currentSize, p.maxSize))
	}

	count := 0
	var prev *cacheEntry
	for cur := p.head; cur != nil; cur = cur.next {
		if cur.prev != prev {
			panic(errors.New("datasetpool: broken prev link in LRU chain"))
		}
		if cur.refCount < 0 {
			panic(errors.Errorf("datasetpool: negative refCount on entry %q", cur.description))
		}
		if cur.refCount > 0 && cur.underlying == nil && !cur.opening {
			panic(errors.Errorf("datasetpool: leased entry %q has no underlying dataset", cur.description))
		}
		prev = cur
		count++
	}
	if prev != p.tail {
		panic(errors.New("datasetpool: tail does not match chain end"))
	}
	if count != p.currentSize {
		panic(errors.Errorf("datasetpool: chain length %d does not match currentSize %d", count, p.currentSize))
	}
}

// AcquireLease finds or creates a cache entry for description and returns
// a Lease on it once its underlying dataset is known. A reuse match whose
// first open is still in flight (entry.opening) is not returned
// immediately: the caller waits on p.cond until that open completes,
// rather than being handed a Lease snapshotting a still-nil dataset.
func (p *Pool) AcquireLease(description string, access AccessMode, openOptions []string, owner OwnerID, shared bool) (*Lease, error) {
	p.mu.Lock()

	var victim *cacheEntry
	for {
		victim = nil
		blockedOnOpen := false
		for cur := p.head; cur != nil; cur = cur.next {
			sameName := cur.description == description
			reusable := sameName && ((shared && cur.ownerID == owner) || (!shared && cur.refCount == 0))
			if reusable {
				if cur.opening {
					blockedOnOpen = true
					break
				}
				p.linkFront(cur)
				cur.refCount++
				p.mu.Unlock()
				return &Lease{entry: cur, dataset: cur.underlying}, nil
			}
			if cur.refCount == 0 && !cur.opening {
				victim = cur
			}
		}
		if !blockedOnOpen {
			break
		}
		p.cond.Wait()
	}

	var entry *cacheEntry
	if p.currentSize < p.maxSize {
		entry = &cacheEntry{}
		p.linkFront(entry)
		p.currentSize++
	} else {
		if victim == nil {
			p.mu.Unlock()
			logrus.WithField("max_size", p.maxSize).Error(
				"datasetpool: too many threads or too deep a cascade of proxy opens for the current pool size")
			return nil, errors.Wrapf(ErrPoolExhausted,
				"too many threads are running for the current dataset pool size (%d); try raising %s",
				p.maxSize, maxSizeConfigKey)
		}
		entry = victim
		// Take the victim out of other callers' reuse/victim scans before
		// evictLocked releases mu around Close.
		entry.opening = true
		p.evictLocked(entry)
	}

	entry.description = description
	entry.access = access
	entry.openOptions = openOptions
	entry.ownerID = owner
	entry.refCount = 1
	entry.opening = true

	p.recursionGuard++
	p.mu.Unlock()

	ds, openErr := p.opener.Open(description, access, openOptions)

	p.mu.Lock()
	p.recursionGuard--
	entry.underlying = ds
	entry.opening = false
	p.cond.Broadcast()
	p.mu.Unlock()

	if openErr != nil {
		logrus.WithError(openErr).WithField("description", description).Warn("datasetpool: open failed")
	}

	return &Lease{entry: entry, dataset: ds}, nil
}

// evictLocked recycles victim for reuse: closes its underlying dataset (if
// any) while impersonating the owner that opened it, clears its
// description, and moves it to the head of the chain. Caller holds mu and
// must have already removed victim as a reuse/victim candidate.
func (p *Pool) evictLocked(victim *cacheEntry) {
	victim.description = ""
	if victim.underlying != nil {
		ds := victim.underlying
		ownerToRestore := p.owners.Impersonate(victim.ownerID)
		p.recursionGuard++
		p.mu.Unlock()

		p.opener.Close(ds)

		p.mu.Lock()
		p.recursionGuard--
		p.owners.Restore(ownerToRestore)
		victim.underlying = nil
	}
	p.linkFront(victim)
}

// ReleaseLease decrements the entry's refCount. It does not close
// anything; the entry simply becomes eligible for eviction or reuse.
func (p *Pool) ReleaseLease(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l.entry.refCount <= 0 {
		panic(errors.Errorf("datasetpool: release of lease on %q with refCount %d", l.entry.description, l.entry.refCount))
	}
	l.entry.refCount--
}

// CloseNamed aggressively closes an idle entry with the given description,
// if one exists. Used by non-shared proxies at destruction so their
// dataset isn't left lingering in the pool when nobody can reach it by
// description alone. Idempotent: a second call finds no matching idle
// entry and does nothing.
func (p *Pool) CloseNamed(description string, access AccessMode) {
	p.mu.Lock()

	var target *cacheEntry
	for cur := p.head; cur != nil; cur = cur.next {
		if cur.description == description && cur.refCount == 0 && cur.underlying != nil {
			target = cur
			break
		}
	}
	if target == nil {
		p.mu.Unlock()
		return
	}

	ds := target.underlying
	ownerToRestore := p.owners.Impersonate(target.ownerID)
	p.recursionGuard++
	p.mu.Unlock()

	p.opener.Close(ds)

	p.mu.Lock()
	p.recursionGuard--
	p.owners.Restore(ownerToRestore)
	target.underlying = nil
	target.description = ""
	p.mu.Unlock()
}

// destroyLocked is called once poolRefCount has reached zero (and no
// prevent-destroy region is active). Every entry must have refCount==0;
// violating that is a programmer error in a caller, not a runtime
// condition the pool can recover from.
func (p *Pool) destroyLocked() {
	for cur := p.head; cur != nil; {
		next := cur.next
		if cur.refCount != 0 {
			panic(errors.Errorf("datasetpool: entry %q still leased (refCount=%d) at pool teardown", cur.description, cur.refCount))
		}
		if cur.underlying != nil {
			ds := cur.underlying
			ownerToRestore := p.owners.Impersonate(cur.ownerID)
			p.opener.Close(ds)
			p.owners.Restore(ownerToRestore)
		}
		cur = next
	}
	p.head, p.tail = nil, nil
	p.currentSize = 0
}
