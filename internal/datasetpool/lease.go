package datasetpool

// Lease is a caller's hold on a pooled dataset. It must be released
// exactly once, by handing it back to the Pool that issued it via
// ReleaseLease.
type Lease struct {
	entry   *cacheEntry
	dataset Dataset
}

// Dataset returns the underlying dataset this lease refers to. It is nil
// if the open that populated it failed; AcquireLease still returns a nil
// error in that case, so callers must check this for nil before trusting
// it.
func (l *Lease) Dataset() Dataset {
	return l.dataset
}

