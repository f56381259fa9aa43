// Package subscription holds the in-memory registry of tracked assets and
// enforces the threshold invariants of each subscription.
package subscription

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

const defaultShards = 32

type key struct {
	owner  string
	symbol string
}

type entry struct {
	sub   domain.Subscription
	order uint64
}

type shard struct {
	mu    sync.RWMutex
	items map[key]*entry
}

// Store is a sharded, concurrency-safe Subscription registry. Writes to the
// same (owner, symbol) key are serialized; distinct keys only share a lock
// when they hash to the same shard.
type Store struct {
	shards   []*shard
	defaults domain.Band
	version  atomic.Uint64
	order    atomic.Uint64
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithShards sets the number of lock shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// NewStore creates an empty Store whose new subscriptions use defaults when
// no target return is given. defaults must already be validated.
func NewStore(defaults domain.Band, opts ...Option) *Store {
	s := &Store{
		shards:   newShards(defaultShards),
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{items: make(map[key]*entry)}
	}
	return out
}

func (s *Store) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.owner))
	h.Write([]byte{0})
	h.Write([]byte(k.symbol))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func makeKey(ownerID, symbol string) (key, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return key{}, domain.NewConfigError("owner", "must not be empty")
	}
	sym := domain.NormalizeSymbol(symbol)
	if sym == "" {
		return key{}, domain.NewConfigError("symbol", "must not be empty")
	}
	return key{owner: owner, symbol: sym}, nil
}

// lookupKey is makeKey for read paths, where a malformed key simply cannot
// exist in the store.
func lookupKey(ownerID, symbol string) (key, bool) {
	k, err := makeKey(ownerID, symbol)
	return k, err == nil
}

// Upsert validates and registers a subscription, replacing any existing one
// for the same key in a single step. Both sides start armed and LastPrice is
// unset, so the next sample only establishes a baseline.
func (s *Store) Upsert(ownerID, symbol string, referencePrice decimal.Decimal, targetReturnPct *decimal.Decimal) (domain.Subscription, error) {
	k, err := makeKey(ownerID, symbol)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !referencePrice.IsPositive() {
		return domain.Subscription{}, domain.NewConfigError("reference price", "must be greater than 0")
	}
	band, err := s.defaults.WithTarget(targetReturnPct)
	if err != nil {
		return domain.Subscription{}, err
	}

	now := s.now()
	sub := domain.Subscription{
		OwnerID:        k.owner,
		Symbol:         k.symbol,
		ReferencePrice: referencePrice,
		Band:           band,
		UpperThreshold: band.Threshold(domain.SideUpper, referencePrice),
		LowerThreshold: band.Threshold(domain.SideLower, referencePrice),
		UpperArmed:     true,
		LowerArmed:     true,
		Version:        s.version.Add(1),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if targetReturnPct != nil {
		t := *targetReturnPct
		sub.TargetReturnPct = &t
	}

	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if prev, ok := sh.items[k]; ok {
		prev.sub = sub
	} else {
		sh.items[k] = &entry{sub: sub, order: s.order.Add(1)}
	}
	return sub.Clone(), nil
}

// Get returns the subscription for (ownerID, symbol) or domain.ErrNotFound.
func (s *Store) Get(ownerID, symbol string) (domain.Subscription, error) {
	k, ok := lookupKey(ownerID, symbol)
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.items[k]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return e.sub.Clone(), nil
}

// List returns the owner's subscriptions in registration order.
func (s *Store) List(ownerID string) []domain.Subscription {
	owner := strings.TrimSpace(ownerID)
	return s.collect(func(k key) bool { return k.owner == owner })
}

// ListAll returns every subscription in registration order.
func (s *Store) ListAll() []domain.Subscription {
	return s.collect(func(key) bool { return true })
}

func (s *Store) collect(match func(key) bool) []domain.Subscription {
	var found []entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.items {
			if match(k) {
				found = append(found, entry{sub: e.sub.Clone(), order: e.order})
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(found, func(i, j int) bool { return found[i].order < found[j].order })

	out := make([]domain.Subscription, len(found))
	for i := range found {
		out[i] = found[i].sub
	}
	return out
}

// Remove deletes the subscription and reports whether it existed.
func (s *Store) Remove(ownerID, symbol string) bool {
	k, ok := lookupKey(ownerID, symbol)
	if !ok {
		return false
	}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[k]; !ok {
		return false
	}
	delete(sh.items, k)
	return true
}

// ApplyFire rebases the fired side off newPrice and re-arms it. The other
// side is left untouched.
func (s *Store) ApplyFire(ownerID, symbol string, side domain.Side, newPrice decimal.Decimal) (domain.Subscription, error) {
	return s.ApplyFireAt(ownerID, symbol, 0, side, newPrice)
}

// ApplyFireAt is ApplyFire guarded by the version observed when the crossing
// was decided. It returns domain.ErrStale when the subscription has been
// replaced or its thresholds edited since; version 0 disables the check.
// The rebase and the firing sample are committed under one lock.
func (s *Store) ApplyFireAt(ownerID, symbol string, version uint64, side domain.Side, newPrice decimal.Decimal) (domain.Subscription, error) {
	return s.update(ownerID, symbol, version, func(sub *domain.Subscription) error {
		next := sub.Band.Threshold(side, newPrice)
		if side == domain.SideUpper {
			sub.UpperThreshold = next
			sub.UpperArmed = true
		} else {
			sub.LowerThreshold = next
			sub.LowerArmed = true
		}
		p := newPrice
		sub.LastPrice = &p
		return nil
	})
}

// RecordSample stores price as the latest observed sample.
func (s *Store) RecordSample(ownerID, symbol string, version uint64, price decimal.Decimal) (domain.Subscription, error) {
	return s.update(ownerID, symbol, version, func(sub *domain.Subscription) error {
		p := price
		sub.LastPrice = &p
		return nil
	})
}

// SetThresholds manually overrides one or both thresholds. The result must
// keep upper above lower; both sides are re-armed. The edit takes a new
// version, so an evaluation decided against the old thresholds goes stale.
func (s *Store) SetThresholds(ownerID, symbol string, upper, lower *decimal.Decimal) (domain.Subscription, error) {
	if upper == nil && lower == nil {
		return domain.Subscription{}, domain.NewConfigError("thresholds", "at least one of upper or lower is required")
	}
	if upper != nil && !upper.IsPositive() {
		return domain.Subscription{}, domain.NewConfigError("upper threshold", "must be greater than 0")
	}
	if lower != nil && !lower.IsPositive() {
		return domain.Subscription{}, domain.NewConfigError("lower threshold", "must be greater than 0")
	}
	return s.update(ownerID, symbol, 0, func(sub *domain.Subscription) error {
		nu, nl := sub.UpperThreshold, sub.LowerThreshold
		if upper != nil {
			nu = *upper
		}
		if lower != nil {
			nl = *lower
		}
		if !nu.GreaterThan(nl) {
			return domain.NewConfigError("thresholds", "upper must be greater than lower")
		}
		sub.UpperThreshold, sub.LowerThreshold = nu, nl
		sub.UpperArmed, sub.LowerArmed = true, true
		sub.Version = s.version.Add(1)
		return nil
	})
}

func (s *Store) update(ownerID, symbol string, version uint64, fn func(*domain.Subscription) error) (domain.Subscription, error) {
	k, ok := lookupKey(ownerID, symbol)
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[k]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	if version != 0 && e.sub.Version != version {
		return domain.Subscription{}, domain.ErrStale
	}

	next := e.sub.Clone()
	if err := fn(&next); err != nil {
		return domain.Subscription{}, err
	}
	next.UpdatedAt = s.now()
	e.sub = next
	return next.Clone(), nil
}

// Len returns the number of subscriptions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
