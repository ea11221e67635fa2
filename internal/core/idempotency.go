package core

import (
	"container/list"
)

// TxDedup implements two-tier transaction deduplication: a hot in-memory
// LRU over recent transaction ids backed by a cold Postgres lookup. A
// transaction replayed within the retention window is skipped instead of
// applied twice.
type TxDedup struct {
	lru       *txLRU
	dbChecker DBTxChecker
	metrics   *DedupMetrics
}

// DBTxChecker is the cold-path lookup against the block store.
type DBTxChecker interface {
	HasTransaction(txID string) (bool, error)
}

func NewTxDedup(capacity int, dbChecker DBTxChecker) *TxDedup {
	return &TxDedup{
		lru:       newTxLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewDedupMetrics(),
	}
}

// IsDuplicate checks whether the transaction id has already been applied.
func (d *TxDedup) IsDuplicate(txID string) bool {
	if d.lru.Contains(txID) {
		d.metrics.RecordDuplicate("lru")
		return true
	}
	if d.dbChecker != nil {
		isDup, err := d.dbChecker.HasTransaction(txID)
		if err != nil {
			// A store hiccup must not stall block application; treat the
			// transaction as new and let the store reject it on write.
			d.metrics.RecordColdError()
			return false
		}
		if isDup {
			d.metrics.RecordDuplicate("store")
			d.lru.Add(txID)
			return true
		}
	}
	return false
}

// AttachStore connects the cold-path lookup. Recovery replays run
// before the store is attached so already-persisted transactions
// re-apply instead of being skipped as duplicates.
func (d *TxDedup) AttachStore(checker DBTxChecker) {
	d.dbChecker = checker
}

// MarkApplied records the id after the transaction commits.
func (d *TxDedup) MarkApplied(txID string) {
	d.lru.Add(txID)
}

// Warm loads recently applied ids so a restarted node avoids cold lookups.
func (d *TxDedup) Warm(txIDs []string) {
	d.lru.WarmFromKeys(txIDs)
}

func (d *TxDedup) Metrics() *DedupMetrics {
	return d.metrics
}

// txLRU is an LRU over transaction ids.
// Not thread-safe; only accessed from the single-threaded engine loop.
type txLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func newTxLRU(capacity int) *txLRU {
	return &txLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if the id is cached (promotes to front).
func (lru *txLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts an id (or promotes if present).
func (lru *txLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *txLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of ids without promoting existing entries.
func (lru *txLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

func (lru *txLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *txLRU) Evictions() int64 {
	return lru.evictions
}

// DedupMetrics tracks deduplication stats.
// Not thread-safe; only accessed from the single-threaded engine loop.
type DedupMetrics struct {
	duplicatesLRU   int64
	duplicatesStore int64
	coldErrors      int64
}

func NewDedupMetrics() *DedupMetrics {
	return &DedupMetrics{}
}

func (m *DedupMetrics) RecordDuplicate(tier string) {
	if tier == "lru" {
		m.duplicatesLRU++
	} else {
		m.duplicatesStore++
	}
}

func (m *DedupMetrics) RecordColdError() {
	m.coldErrors++
}

func (m *DedupMetrics) Duplicates() (lru int64, store int64) {
	return m.duplicatesLRU, m.duplicatesStore
}

func (m *DedupMetrics) ColdErrors() int64 {
	return m.coldErrors
}
