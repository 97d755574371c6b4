// Package rasterproxy implements the proxy handle and proxy band family
// that sit on top of internal/datasetpool: stand-in objects that
// advertise dataset/band metadata without opening anything, and that
// materialize the underlying GDAL dataset on demand through the pool.
//
// This is the Go rendering of GDALProxyPoolDataset/GDALProxyPoolRasterBand
// from the original GDAL source (see DESIGN.md), generalized the way
// pampa0629-gomosaic's own code touches gdal.Dataset/gdal.RasterBand
// directly rather than through an intermediate wrapper interface.
package rasterproxy

import (
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rasterpool/gomosaic/internal/datasetpool"
)

var log = logrus.WithField("component", "rasterproxy")

// ErrBandMissing names the band_missing condition: a band number beyond
// the underlying dataset's band count, or an overview index beyond what
// the underlying band has. Band.RefUnderlyingBand logs that condition and
// reports it as ok=false; nothing in this package returns this error.
var ErrBandMissing = errors.New("rasterproxy: band not present on underlying dataset")

// ErrNotImplemented is returned by operations the original explicitly
// never implemented.
var ErrNotImplemented = errors.New("rasterproxy: not implemented")

// Options configures a new Handle. XSize/YSize are advertised
// immediately without opening anything; Projection/GeoTransform, when
// non-zero, are stored as overrides returned without materializing the
// underlying dataset (see Open Question (a) in DESIGN.md).
type Options struct {
	Description string
	XSize, YSize int
	Access      datasetpool.AccessMode
	Shared      bool
	Owner       datasetpool.OwnerID

	Projection   string
	GeoTransform *[6]float64
}

// Handle is a ProxyHandle: a stand-in for a GDAL dataset that only
// materializes the real dataset through the pool when an operation
// actually needs it.
type Handle struct {
	pool   *datasetpool.Pool
	owners datasetpool.OwnerRegistry

	description string
	access      datasetpool.AccessMode
	shared      bool
	owner       datasetpool.OwnerID

	openOptions    []string
	openOptionsSet bool

	xSize, ySize int

	projection         string
	hasProjOverride    bool
	geoTransform       [6]float64
	hasGeoTransOverride bool

	mu          sync.Mutex
	currentLease *datasetpool.Lease

	gcpMu         sync.Mutex
	gcpProjection string
	gcps          []gdal.GCP

	metaMu            sync.Mutex
	metadataCache     map[string][]string
	metadataItemCache map[string]string

	bandsMu sync.Mutex
	bands   []*Band

	closed bool
}

// NewHandle constructs a top-level proxy handle and claims the process
// pool on its behalf (bumping pool_refcount unless the caller is itself
// executing inside the pool's recursion-guarded Opener.Open — see
// datasetpool's recursion guard).
func NewHandle(pool *datasetpool.Pool, owners datasetpool.OwnerRegistry, opts Options) *Handle {
	h := &Handle{
		pool:              pool,
		owners:            owners,
		description:       opts.Description,
		access:            opts.Access,
		shared:            opts.Shared,
		owner:             opts.Owner,
		xSize:             opts.XSize,
		ySize:             opts.YSize,
		metadataCache:     make(map[string][]string),
		metadataItemCache: make(map[string]string),
	}
	if opts.Projection != "" {
		h.projection = opts.Projection
		h.hasProjOverride = true
	}
	if opts.GeoTransform != nil {
		h.geoTransform = *opts.GeoTransform
		h.hasGeoTransOverride = true
	}
	return h
}

// SetOpenOptions sets the open options passed to every future
// acquire_lease call. One-shot: the original GDALProxyPoolDataset
// asserts papszOpenOptions is still nullptr; this panics on a second
// call rather than silently overwriting (see SPEC_FULL.md SUPPLEMENTED
// FEATURES).
func (h *Handle) SetOpenOptions(openOptions []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openOptionsSet {
		panic(errors.New("rasterproxy: SetOpenOptions called more than once"))
	}
	h.openOptions = openOptions
	h.openOptionsSet = true
}

// Close destroys the handle: a non-shared handle aggressively closes any
// idle pool entry for its description, then the pool reference is
// released.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if !h.shared {
		h.pool.CloseNamed(h.description, h.access)
	}
	datasetpool.Release()
}

// AddBand appends a new plain band with the next band number.
func (h *Handle) AddBand(dataType gdal.DataType, blockX, blockY int) *Band {
	h.bandsMu.Lock()
	defer h.bandsMu.Unlock()
	b := &Band{
		handle:            h,
		kind:              variantPlain,
		number:            len(h.bands) + 1,
		dataType:          dataType,
		blockX:            blockX,
		blockY:            blockY,
		metadataCache:     make(map[string][]string),
		metadataItemCache: make(map[string]string),
	}
	h.bands = append(h.bands, b)
	return b
}

// Bands returns the installed bands in band-number order.
func (h *Handle) Bands() []*Band {
	h.bandsMu.Lock()
	defer h.bandsMu.Unlock()
	out := make([]*Band, len(h.bands))
	copy(out, h.bands)
	return out
}

// RefUnderlying acquires a lease on the underlying dataset, impersonating
// this handle's owner for the duration of the pool call. A failed open
// releases the lease immediately and reports ok=false.
func (h *Handle) RefUnderlying() (gdal.Dataset, bool) {
	prev := h.owners.Impersonate(h.owner)
	lease, err := h.pool.AcquireLease(h.description, h.access, h.openOptions, h.owner, h.shared)
	h.owners.Restore(prev)

	if err != nil {
		log.WithError(err).WithField("description", h.description).Warn("rasterproxy: acquire lease failed")
		return gdal.Dataset{}, false
	}
	if lease.Dataset() == nil {
		h.pool.ReleaseLease(lease)
		return gdal.Dataset{}, false
	}

	h.mu.Lock()
	h.currentLease = lease
	h.mu.Unlock()

	return lease.Dataset().(gdal.Dataset), true
}

// UnrefUnderlying releases the lease most recently returned by
// RefUnderlying. ds is checked against the lease's own dataset, mirroring
// the original's CPLAssert(cacheEntry->poDS == poUnderlyingDataset): a
// caller passing back the wrong dataset is a caller bug, not a condition
// to recover from.
func (h *Handle) UnrefUnderlying(ds gdal.Dataset) {
	h.mu.Lock()
	lease := h.currentLease
	h.currentLease = nil
	h.mu.Unlock()

	if lease == nil {
		panic(errors.New("rasterproxy: UnrefUnderlying with no outstanding lease"))
	}
	if lease.Dataset().(gdal.Dataset) != ds {
		panic(errors.New("rasterproxy: UnrefUnderlying called with a dataset that does not match the current lease"))
	}
	h.pool.ReleaseLease(lease)
}

// GetProjectionRef returns the projection override if present, otherwise
// materializes the dataset to read it.
func (h *Handle) GetProjectionRef() string {
	if h.hasProjOverride {
		return h.projection
	}
	ds, ok := h.RefUnderlying()
	if !ok {
		return ""
	}
	defer h.UnrefUnderlying(ds)
	return ds.Projection()
}

// SetProjection clears the override and delegates to the underlying
// dataset, which must be opened for write access.
func (h *Handle) SetProjection(projection string) {
	h.hasProjOverride = false
	ds, ok := h.RefUnderlying()
	if !ok {
		return
	}
	defer h.UnrefUnderlying(ds)
	ds.SetProjection(projection)
}

// GetGeoTransform returns the geotransform override if present,
// otherwise materializes the dataset to read it.
func (h *Handle) GetGeoTransform() [6]float64 {
	if h.hasGeoTransOverride {
		return h.geoTransform
	}
	ds, ok := h.RefUnderlying()
	if !ok {
		return [6]float64{}
	}
	defer h.UnrefUnderlying(ds)
	return ds.GeoTransform()
}

// SetGeoTransform clears the override and delegates.
func (h *Handle) SetGeoTransform(gt [6]float64) {
	h.hasGeoTransOverride = false
	ds, ok := h.RefUnderlying()
	if !ok {
		return
	}
	defer h.UnrefUnderlying(ds)
	ds.SetGeoTransform(gt)
}

// GetMetadata returns a proxy-owned snapshot of the underlying dataset's
// metadata for domain, caching it. Go's garbage collector already keeps
// any slice the caller still references alive, so (unlike the original's
// append-only history) this overwrites the cached snapshot on every
// call: a caller holding an old returned slice keeps it valid regardless.
func (h *Handle) GetMetadata(domain string) []string {
	ds, ok := h.RefUnderlying()
	if !ok {
		return nil
	}
	defer h.UnrefUnderlying(ds)

	items := ds.Metadata(domain)
	snapshot := append([]string(nil), items...)

	h.metaMu.Lock()
	h.metadataCache[domain] = snapshot
	h.metaMu.Unlock()
	return snapshot
}

// GetMetadataItem is the single-item analogue of GetMetadata.
func (h *Handle) GetMetadataItem(name, domain string) string {
	ds, ok := h.RefUnderlying()
	if !ok {
		return ""
	}
	defer h.UnrefUnderlying(ds)

	value := ds.MetadataItem(name, domain)

	h.metaMu.Lock()
	h.metadataItemCache[name+"\x00"+domain] = value
	h.metaMu.Unlock()
	return value
}

// GetGCPProjection refreshes the proxy-owned GCP projection string on
// every call; callers must not retain the returned value across calls.
func (h *Handle) GetGCPProjection() string {
	ds, ok := h.RefUnderlying()
	if !ok {
		return ""
	}
	defer h.UnrefUnderlying(ds)

	h.gcpMu.Lock()
	h.gcpProjection = ds.GCPProjection()
	proj := h.gcpProjection
	h.gcpMu.Unlock()
	return proj
}

// GetGCPs is the list analogue of GetGCPProjection.
func (h *Handle) GetGCPs() []gdal.GCP {
	ds, ok := h.RefUnderlying()
	if !ok {
		return nil
	}
	defer h.UnrefUnderlying(ds)

	h.gcpMu.Lock()
	h.gcps = ds.GCPs()
	gcps := h.gcps
	h.gcpMu.Unlock()
	return gcps
}

// GetInternalHandle logs a warning that the returned dataset may be
// invalidated by pool eviction, then still returns it. Preserved from
// the original as a documented foot-gun rather than removed (see
// SPEC_FULL.md SUPPLEMENTED FEATURES).
func (h *Handle) GetInternalHandle() (gdal.Dataset, bool) {
	log.WithField("description", h.description).Warn(
		"rasterproxy: GetInternalHandle returns a dataset that may be closed by pool eviction at any time")
	return h.RefUnderlying()
}
