package store

import "github.com/fleetwatch/gpu-observer/pkg/model"

// MetricsIndex is the keyed (node, gpu_index) -> latest-record index the
// poller maintains tick by tick as it appends records. It wraps a single generic
// TypedStore rather than the source's per-resource-type fan-out: this
// domain has exactly one dynamic record kind.
type MetricsIndex struct {
	records *TypedStore[model.MetricsRecord]
}

// NewMetricsIndex creates an empty MetricsIndex.
func NewMetricsIndex() *MetricsIndex {
	return &MetricsIndex{records: NewTypedStore[model.MetricsRecord]()}
}

// Put inserts r, overwriting any existing record for the same (node,
// gpu_index) key unconditionally. Latest-wins ordering is the caller's
// responsibility; PutIfNewer is the timestamp-checked variant.
func (idx *MetricsIndex) Put(r model.MetricsRecord) {
	idx.records.Set(r.Key(), r)
}

// PutIfNewer inserts r only if no record exists yet for its (node,
// gpu_index) key or the existing one has a smaller-or-equal Timestamp. This
// lets the poller maintain the index incrementally, tick by tick, instead
// of rebuilding it from a full log scan every time.
func (idx *MetricsIndex) PutIfNewer(r model.MetricsRecord) {
	existing, ok := idx.Get(r.Node, r.GPUIndex)
	if !ok || existing.Timestamp <= r.Timestamp {
		idx.Put(r)
	}
}

// Get returns the current record for (node, gpuIndex), if any.
func (idx *MetricsIndex) Get(node string, gpuIndex int) (model.MetricsRecord, bool) {
	return idx.records.Get(model.MetricsRecord{Node: node, GPUIndex: gpuIndex}.Key())
}

// Len returns the number of distinct (node, gpu_index) series tracked.
func (idx *MetricsIndex) Len() int {
	return idx.records.Len()
}

// LastUpdated returns the UnixMilli timestamp of the last Put.
func (idx *MetricsIndex) LastUpdated() int64 {
	return idx.records.LastUpdated()
}

// Values returns every tracked record. Order is not guaranteed.
func (idx *MetricsIndex) Values() []model.MetricsRecord {
	return idx.records.Values()
}

// ItemCounts returns the number of tracked series in a one-entry map keyed
// by kind, the same "gpu_metrics_series" label the poller reports on the
// StoreItems gauge.
func (idx *MetricsIndex) ItemCounts() map[string]int {
	return map[string]int{"gpu_metrics_series": idx.Len()}
}
