package datasetpool

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDataset struct {
	name   string
	closed bool
}

type fakeOpener struct {
	opens  int32
	closes int32
	fail   map[string]bool
}

func (f *fakeOpener) Open(description string, access AccessMode, openOptions []string) (Dataset, error) {
	atomic.AddInt32(&f.opens, 1)
	if f.fail != nil && f.fail[description] {
		return nil, fmt.Errorf("open failed: %s", description)
	}
	return &fakeDataset{name: description}, nil
}

func (f *fakeOpener) Close(ds Dataset) {
	atomic.AddInt32(&f.closes, 1)
	ds.(*fakeDataset).closed = true
}

type fakeOwners struct{ current OwnerID }

func (f *fakeOwners) Impersonate(id OwnerID) OwnerID {
	prev := f.current
	f.current = id
	return prev
}

func (f *fakeOwners) Restore(prev OwnerID) {
	f.current = prev
}

type fixedConfig struct{ size int }

func (f fixedConfig) Int(key string, def int) int { return f.size }

func newTestPool(size int, opener Opener) *Pool {
	return newPool(size, opener, &fakeOwners{}, fixedConfig{size: size})
}

func TestAcquireLease_OpensOnFirstAcquire(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(4, opener)

	lease, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	require.NotNil(t, lease.Dataset())
	assert.EqualValues(t, 1, opener.opens)

	p.CheckInvariants()
}

func TestAcquireLease_NonSharedReusesOnlyWhenIdle(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(4, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)

	// Same description, still leased: a non-shared acquire must open a
	// second independent entry rather than reuse l1's.
	l2, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(2), false)
	require.NoError(t, err)
	assert.NotSame(t, l1.entry, l2.entry)
	assert.EqualValues(t, 2, opener.opens)

	p.ReleaseLease(l1)
	p.ReleaseLease(l2)
	p.CheckInvariants()
}

func TestAcquireLease_SharedReusesSameOwner(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(4, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), true)
	require.NoError(t, err)

	l2, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), true)
	require.NoError(t, err)

	assert.Same(t, l1.entry, l2.entry)
	assert.EqualValues(t, 1, opener.opens)

	p.ReleaseLease(l1)
	p.ReleaseLease(l2)
	p.CheckInvariants()
}

func TestAcquireLease_SharedDoesNotReuseAcrossDifferentOwners(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(4, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), true)
	require.NoError(t, err)

	// Same description, shared=true, but a different owner: must not
	// reuse l1's entry, unlike TestAcquireLease_SharedReusesSameOwner.
	l2, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(2), true)
	require.NoError(t, err)

	assert.NotSame(t, l1.entry, l2.entry)
	assert.EqualValues(t, 2, opener.opens)

	p.ReleaseLease(l1)
	p.ReleaseLease(l2)
	p.CheckInvariants()
}

func chainDescriptions(p *Pool) []string {
	var out []string
	for cur := p.head; cur != nil; cur = cur.next {
		out = append(out, cur.description)
	}
	return out
}

func TestAcquireLease_LRUChainOrderAfterAcquireReleaseSequence(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(4, opener)

	la, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	lb, err := p.AcquireLease("b.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	lc, err := p.AcquireLease("c.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"c.tif", "b.tif", "a.tif"}, chainDescriptions(p))

	// Releasing and re-acquiring the now-idle a.tif reuses its entry and
	// relinks it to the front of the chain.
	p.ReleaseLease(la)
	la2, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	assert.Same(t, la.entry, la2.entry)
	assert.Equal(t, []string{"a.tif", "c.tif", "b.tif"}, chainDescriptions(p))

	p.ReleaseLease(la2)
	p.ReleaseLease(lb)
	p.ReleaseLease(lc)
	p.CheckInvariants()
}

// reentrantOpener's Open method, for one chosen description, calls back
// into Claim/AcquireLease/ReleaseLease/Release before returning, the way
// an Opener that itself opens a VRT referencing other datasets through
// this same pool would.
type reentrantOpener struct {
	fakeOpener
	owners     OwnerRegistry
	config     ConfigSource
	triggerFor string
}

func (r *reentrantOpener) Open(description string, access AccessMode, openOptions []string) (Dataset, error) {
	if description == r.triggerFor {
		inner := Claim(r, r.owners, r.config)
		lease, err := inner.AcquireLease("inner.tif", ReadOnly, nil, OwnerID(99), false)
		if err == nil {
			inner.ReleaseLease(lease)
		}
		Release()
	}
	return r.fakeOpener.Open(description, access, openOptions)
}

func TestAcquireLease_RecursiveOpenRestoresPoolRefCount(t *testing.T) {
	ResetSingletonForTest()
	defer ResetSingletonForTest()

	owners := &fakeOwners{}
	config := fixedConfig{size: 4}
	opener := &reentrantOpener{owners: owners, config: config, triggerFor: "outer.vrt"}

	p := Claim(opener, owners, config)
	assert.EqualValues(t, 1, p.poolRefCount)

	lease, err := p.AcquireLease("outer.vrt", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)

	// The reentrant Claim/Release pair ran while recursionGuard was
	// raised around this Open call, so it must not have moved
	// pool_refcount even though it called Claim and Release directly.
	assert.EqualValues(t, 1, p.poolRefCount)
	assert.EqualValues(t, 0, p.recursionGuard)

	p.ReleaseLease(lease)
	Release()

	assert.EqualValues(t, 0, p.poolRefCount)
	assert.EqualValues(t, 2, opener.opens)
	assert.EqualValues(t, 2, opener.closes)
}

func TestAcquireLease_EvictsLRUIdleEntryWhenFull(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(2, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	l2, err := p.AcquireLease("b.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)

	p.ReleaseLease(l1)

	// Pool is full (2/2); a.tif is idle so it is the only evictable entry.
	l3, err := p.AcquireLease("c.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, opener.opens)
	assert.EqualValues(t, 1, opener.closes)

	p.ReleaseLease(l2)
	p.ReleaseLease(l3)
	p.CheckInvariants()
}

func TestAcquireLease_ExhaustedWhenNothingIdle(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(1, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)

	_, err = p.AcquireLease("b.tif", ReadOnly, nil, OwnerID(1), false)
	require.Error(t, err)

	p.ReleaseLease(l1)
	p.CheckInvariants()
}

func TestReleaseLease_PanicsOnDoubleRelease(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(2, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)

	p.ReleaseLease(l1)
	assert.Panics(t, func() { p.ReleaseLease(l1) })
}

func TestCloseNamed_ClosesIdleEntryAndIsIdempotent(t *testing.T) {
	opener := &fakeOpener{}
	p := newTestPool(2, opener)

	l1, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	p.ReleaseLease(l1)

	p.CloseNamed("a.tif", ReadOnly)
	assert.EqualValues(t, 1, opener.closes)

	// Second call finds nothing to close.
	p.CloseNamed("a.tif", ReadOnly)
	assert.EqualValues(t, 1, opener.closes)
	p.CheckInvariants()
}

func TestClaimRelease_TeardownClosesAllIdleEntries(t *testing.T) {
	ResetSingletonForTest()
	defer ResetSingletonForTest()

	opener := &fakeOpener{}
	p := Claim(opener, &fakeOwners{}, fixedConfig{size: 4})

	lease, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	p.ReleaseLease(lease)

	Release()
	assert.EqualValues(t, 1, opener.closes)
}

func TestPreventDestroy_BlocksTeardownUntilForceDestroy(t *testing.T) {
	ResetSingletonForTest()
	defer ResetSingletonForTest()

	opener := &fakeOpener{}
	p := Claim(opener, &fakeOwners{}, fixedConfig{size: 4})
	PreventDestroy()

	lease, err := p.AcquireLease("a.tif", ReadOnly, nil, OwnerID(1), false)
	require.NoError(t, err)
	p.ReleaseLease(lease)

	Release()
	assert.EqualValues(t, 0, opener.closes, "teardown must be suspended while PreventDestroy is active")

	ForceDestroy()
	assert.EqualValues(t, 1, opener.closes)
}
