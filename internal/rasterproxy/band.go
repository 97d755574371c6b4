package rasterproxy

import (
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/sirupsen/logrus"
)

type variantKind int

const (
	variantPlain variantKind = iota
	variantOverview
	variantMask
)

// Band is the common representation for the plain/overview/mask proxy
// band family described in SPEC_FULL.md §4.3. Rather than mirror the
// original's per-band "cached instance slot + local refcount",
// RefUnderlyingBand returns an explicit *Ref object carrying whatever the
// matching UnrefUnderlyingBand call needs to release. Every variant still
// bottoms out in Handle.RefUnderlying/UnrefUnderlying, which track one
// current lease per handle: if a second ref is taken on any band of the
// same handle before the first is released, one of the two unrefs panics.
type Band struct {
	handle *Handle // plain: owning handle
	kind   variantKind

	number        int   // plain: band number
	mainBand      *Band // overview/mask: owning main band
	overviewIndex int   // overview: index into the underlying band's overview list

	dataType     gdal.DataType
	blockX, blockY int

	metaMu            sync.Mutex
	metadataCache     map[string][]string
	metadataItemCache map[string]string
	unitType          string
	categoryNames     []string
	colorTable        []gdal.ColorEntry

	overviewMu     sync.Mutex
	overviewSlots  []*Band
	overviewCount  int
	overviewKnown  bool

	maskMu   sync.Mutex
	maskSlot *Band
}

// Ref is a caller's hold on a band's underlying gdal.RasterBand, obtained
// from RefUnderlyingBand and released via UnrefUnderlyingBand.
type Ref struct {
	band       *Band
	underlying gdal.RasterBand
	dataset    gdal.Dataset // plain: the dataset lease this ref depends on
	parent     *Ref         // overview/mask: the ref taken on the main band
}

// Underlying returns the band this Ref refers to.
func (r *Ref) Underlying() gdal.RasterBand { return r.underlying }

// RefUnderlyingBand locates and returns the band's underlying
// gdal.RasterBand, opening/leasing whatever is needed along the way. ok
// is false (and the Ref is nil) on a missing band/overview/mask or a
// failed dataset open, matching the band_missing/open_failed error kinds
// from SPEC_FULL.md §7.
func (b *Band) RefUnderlyingBand() (*Ref, bool) {
	switch b.kind {
	case variantPlain:
		return b.refPlain()
	case variantOverview:
		return b.refOverview()
	case variantMask:
		return b.refMask()
	default:
		return nil, false
	}
}

func (b *Band) refPlain() (*Ref, bool) {
	ds, ok := b.handle.RefUnderlying()
	if !ok {
		return nil, false
	}
	if b.number < 1 || b.number > ds.RasterCount() {
		logrus.WithField("band", b.number).Warn("rasterproxy: band missing on underlying dataset")
		b.handle.UnrefUnderlying(ds)
		return nil, false
	}
	rb := ds.RasterBand(b.number)
	return &Ref{band: b, underlying: rb, dataset: ds}, true
}

func (b *Band) refOverview() (*Ref, bool) {
	parent, ok := b.mainBand.RefUnderlyingBand()
	if !ok {
		return nil, false
	}
	if b.overviewIndex < 0 || b.overviewIndex >= parent.underlying.OverviewCount() {
		logrus.WithField("overview_index", b.overviewIndex).Warn("rasterproxy: overview index missing")
		b.mainBand.UnrefUnderlyingBand(parent)
		return nil, false
	}
	ov := parent.underlying.Overview(b.overviewIndex)
	return &Ref{band: b, underlying: ov, parent: parent}, true
}

func (b *Band) refMask() (*Ref, bool) {
	parent, ok := b.mainBand.RefUnderlyingBand()
	if !ok {
		return nil, false
	}
	mb := parent.underlying.MaskBand()
	return &Ref{band: b, underlying: mb, parent: parent}, true
}

// UnrefUnderlyingBand releases a Ref obtained from RefUnderlyingBand. It
// panics if ref was not issued for this band, mirroring the original's
// argument-matching assertion.
func (b *Band) UnrefUnderlyingBand(ref *Ref) {
	if ref == nil || ref.band != b {
		panic("rasterproxy: UnrefUnderlyingBand called with a ref from a different band")
	}
	switch b.kind {
	case variantPlain:
		b.handle.UnrefUnderlying(ref.dataset)
	case variantOverview, variantMask:
		b.mainBand.UnrefUnderlyingBand(ref.parent)
	}
}

// Overview returns the proxy for overview index, materializing it (and
// its backing array) on first access and returning the cached proxy on
// every later access without taking a lease.
func (b *Band) Overview(index int) *Band {
	b.overviewMu.Lock()
	defer b.overviewMu.Unlock()

	if index >= len(b.overviewSlots) {
		grown := make([]*Band, index+1)
		copy(grown, b.overviewSlots)
		b.overviewSlots = grown
	}
	if b.overviewSlots[index] == nil {
		b.overviewSlots[index] = &Band{
			handle:            b.handle,
			kind:              variantOverview,
			mainBand:          b,
			overviewIndex:     index,
			metadataCache:     make(map[string][]string),
			metadataItemCache: make(map[string]string),
		}
	}
	return b.overviewSlots[index]
}

// OverviewCount lazily queries and caches the underlying band's overview
// count, avoiding a lease on every call (see SPEC_FULL.md SUPPLEMENTED
// FEATURES, "deferred overview-count query").
func (b *Band) OverviewCount() int {
	b.overviewMu.Lock()
	if b.overviewKnown {
		count := b.overviewCount
		b.overviewMu.Unlock()
		return count
	}
	b.overviewMu.Unlock()

	ref, ok := b.RefUnderlyingBand()
	if !ok {
		return 0
	}
	defer b.UnrefUnderlyingBand(ref)
	count := ref.underlying.OverviewCount()

	b.overviewMu.Lock()
	b.overviewCount = count
	b.overviewKnown = true
	b.overviewMu.Unlock()
	return count
}

// Mask returns the at-most-one mask band proxy for this band,
// materializing it on first access.
func (b *Band) Mask() *Band {
	b.maskMu.Lock()
	defer b.maskMu.Unlock()
	if b.maskSlot == nil {
		b.maskSlot = &Band{
			handle:            b.handle,
			kind:              variantMask,
			mainBand:          b,
			metadataCache:     make(map[string][]string),
			metadataItemCache: make(map[string]string),
		}
	}
	return b.maskSlot
}

// GetMetadata mirrors Handle.GetMetadata at band granularity.
func (b *Band) GetMetadata(domain string) []string {
	ref, ok := b.RefUnderlyingBand()
	if !ok {
		return nil
	}
	defer b.UnrefUnderlyingBand(ref)

	items := ref.underlying.Metadata(domain)
	snapshot := append([]string(nil), items...)

	b.metaMu.Lock()
	b.metadataCache[domain] = snapshot
	b.metaMu.Unlock()
	return snapshot
}

// GetMetadataItem is the single-item analogue of GetMetadata, mirroring
// Handle.GetMetadataItem at band granularity.
func (b *Band) GetMetadataItem(name, domain string) string {
	ref, ok := b.RefUnderlyingBand()
	if !ok {
		return ""
	}
	defer b.UnrefUnderlyingBand(ref)

	value := ref.underlying.MetadataItem(name, domain)

	b.metaMu.Lock()
	b.metadataItemCache[name+"\x00"+domain] = value
	b.metaMu.Unlock()
	return value
}

// GetCategoryNames refreshes and caches the band's raster category
// names, per SPEC_FULL.md §4.3 ("category names ... cached by the band
// the same way GetMetadata/GetUnitType/GetColorTable are").
func (b *Band) GetCategoryNames() []string {
	ref, ok := b.RefUnderlyingBand()
	if !ok {
		return nil
	}
	defer b.UnrefUnderlyingBand(ref)

	names := ref.underlying.CategoryNames()
	snapshot := append([]string(nil), names...)

	b.metaMu.Lock()
	b.categoryNames = snapshot
	b.metaMu.Unlock()
	return snapshot
}

// GetUnitType refreshes and caches the band's unit string.
func (b *Band) GetUnitType() string {
	ref, ok := b.RefUnderlyingBand()
	if !ok {
		return ""
	}
	defer b.UnrefUnderlyingBand(ref)

	unit := ref.underlying.UnitType()
	b.metaMu.Lock()
	b.unitType = unit
	b.metaMu.Unlock()
	return unit
}

// GetColorTable deep-clones the underlying band's color table into
// proxy-owned storage on every call, discarding the previous copy.
func (b *Band) GetColorTable() []gdal.ColorEntry {
	ref, ok := b.RefUnderlyingBand()
	if !ok {
		return nil
	}
	defer b.UnrefUnderlyingBand(ref)

	ct := ref.underlying.ColorTable()
	clone := make([]gdal.ColorEntry, len(ct))
	copy(clone, ct)

	b.metaMu.Lock()
	b.colorTable = clone
	b.metaMu.Unlock()
	return clone
}

// GetRasterSampleOverview is explicitly unimplemented, per SPEC_FULL.md
// §4.3.
func (b *Band) GetRasterSampleOverview() error {
	return ErrNotImplemented
}
