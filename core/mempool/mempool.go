// Package mempool holds verified transactions awaiting inclusion, ordered
// by fee density, with conflict-attribute tracking and capacity eviction.
package mempool

import (
	"errors"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/types"
)

var (
	// ErrDup is returned for a transaction already in the pool.
	ErrDup = errors.New("mempool: already in the pool")
	// ErrConflict is returned when a pooled transaction's conflict
	// attribute blocks admission.
	ErrConflict = errors.New("mempool: conflicts with a pooled transaction")
	// ErrOOM is returned when the pool is full of better-paying entries.
	ErrOOM = errors.New("mempool: out of capacity")
)

// RemovalReason tells subscribers why an entry left the pool.
type RemovalReason byte

// Removal reasons.
const (
	RemovalUnknown RemovalReason = iota
	RemovalIncludedInBlock
	RemovalExpired
	RemovalConflict
	RemovalRevalidationFailed
	RemovalEvicted
)

var poolSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gneo",
	Name:      "mempool_size",
	Help:      "Verified transactions currently pooled.",
})

func init() {
	prometheus.MustRegister(poolSizeGauge)
}

type item struct {
	tx *types.Transaction
	// seq is the arrival order; monotonic, never wall time.
	seq uint64
}

// priority orders by network fee per byte descending, then by absolute
// network fee descending, then by arrival ascending.
func (p *item) higherPriorityThan(other *item) bool {
	a, b := p.tx.FeePerByte(), other.tx.FeePerByte()
	if a != b {
		return a > b
	}
	if p.tx.NetworkFee != other.tx.NetworkFee {
		return p.tx.NetworkFee > other.tx.NetworkFee
	}
	return p.seq < other.seq
}

// Pool is the mempool. All exported methods are safe for concurrent use.
type Pool struct {
	mu sync.RWMutex

	verified map[common.Uint256]*item
	// sorted keeps items ordered best-first.
	sorted []*item
	// conflicts maps a declared conflict hash to the set of pooled
	// transaction hashes declaring it.
	conflicts map[common.Uint256]mapset.Set

	capacity int
	seq      uint64

	// OnRemoved, when set, observes every removal with its reason.
	OnRemoved func(tx *types.Transaction, reason RemovalReason)
}

// New returns an empty pool with the given capacity.
func New(capacity int) *Pool {
	return &Pool{
		verified:  make(map[common.Uint256]*item),
		conflicts: make(map[common.Uint256]mapset.Set),
		capacity:  capacity,
	}
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.verified)
}

// ContainsKey reports whether hash is pooled.
func (p *Pool) ContainsKey(hash common.Uint256) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.verified[hash]
	return ok
}

// TryGetValue returns a pooled transaction by hash.
func (p *Pool) TryGetValue(hash common.Uint256) (*types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if it, ok := p.verified[hash]; ok {
		return it.tx, true
	}
	return nil, false
}

// Add admits a verified transaction. The caller has already run stateless
// and stateful validation; the pool enforces duplication, conflict and
// capacity rules.
func (p *Pool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, ok := p.verified[hash]; ok {
		return ErrDup
	}
	newItem := &item{tx: tx, seq: p.seq}

	// Pooled transactions declaring this hash as a conflict block admission
	// unless the incoming transaction pays strictly more.
	if set, ok := p.conflicts[hash]; ok {
		var losers []common.Uint256
		for _, v := range set.ToSlice() {
			declarer := p.verified[v.(common.Uint256)]
			if declarer == nil {
				continue
			}
			if declarer.tx.NetworkFee >= tx.NetworkFee {
				return ErrConflict
			}
			losers = append(losers, declarer.tx.Hash())
		}
		for _, l := range losers {
			p.removeLocked(l, RemovalConflict)
		}
	}
	// Evict pooled transactions this one declares to invalidate when they
	// share the fee payer (the payer re-spends its own slot).
	for _, c := range tx.Conflicts() {
		if victim, ok := p.verified[c]; ok && victim.tx.Sender().Equals(tx.Sender()) {
			p.removeLocked(c, RemovalConflict)
		}
	}

	if len(p.verified) >= p.capacity {
		worst := p.sorted[len(p.sorted)-1]
		if !newItem.higherPriorityThan(worst) {
			return ErrOOM
		}
		p.removeLocked(worst.tx.Hash(), RemovalEvicted)
	}

	p.seq++
	p.verified[hash] = newItem
	idx := sort.Search(len(p.sorted), func(i int) bool {
		return newItem.higherPriorityThan(p.sorted[i])
	})
	p.sorted = append(p.sorted, nil)
	copy(p.sorted[idx+1:], p.sorted[idx:])
	p.sorted[idx] = newItem

	for _, c := range tx.Conflicts() {
		if p.conflicts[c] == nil {
			p.conflicts[c] = mapset.NewThreadUnsafeSet()
		}
		p.conflicts[c].Add(hash)
	}
	poolSizeGauge.Set(float64(len(p.verified)))
	return nil
}

// Remove drops one transaction.
func (p *Pool) Remove(hash common.Uint256, reason RemovalReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash, reason)
}

func (p *Pool) removeLocked(hash common.Uint256, reason RemovalReason) {
	it, ok := p.verified[hash]
	if !ok {
		return
	}
	delete(p.verified, hash)
	for i, s := range p.sorted {
		if s == it {
			p.sorted = append(p.sorted[:i], p.sorted[i+1:]...)
			break
		}
	}
	for _, c := range it.tx.Conflicts() {
		if set, ok := p.conflicts[c]; ok {
			set.Remove(hash)
			if set.Cardinality() == 0 {
				delete(p.conflicts, c)
			}
		}
	}
	poolSizeGauge.Set(float64(len(p.verified)))
	if p.OnRemoved != nil {
		p.OnRemoved(it.tx, reason)
	}
}

// RemoveStale drops every entry the predicate rejects. The ledger calls it
// after each persist and after reorganizations.
func (p *Pool) RemoveStale(keep func(*types.Transaction) bool, reason RemovalReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var drop []common.Uint256
	for hash, it := range p.verified {
		if !keep(it.tx) {
			drop = append(drop, hash)
		}
	}
	for _, h := range drop {
		p.removeLocked(h, reason)
	}
}

// GetVerified returns the pooled transactions best-first, up to max (0 means
// all). The slice is a copy.
func (p *Pool) GetVerified(max int) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.sorted)
	if max > 0 && max < n {
		n = max
	}
	out := make([]*types.Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = p.sorted[i].tx
	}
	return out
}

// HasConflict reports whether any pooled transaction declares hash as a
// conflict.
func (p *Pool) HasConflict(hash common.Uint256) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.conflicts[hash]
	return ok && set.Cardinality() > 0
}
