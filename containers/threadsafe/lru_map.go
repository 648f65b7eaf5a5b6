// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package threadsafe

import (
	"sync"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LruMap is a size bounded map safe for concurrent use.
// A zero or negative capacity stores nothing.
type LruMap[K comparable, V any] struct {
	mutex sync.Mutex
	items *simplelru.LRU[K, V]
	gauge metrics.Gauge
}

type LruMapOpt[K comparable, V any] func(*LruMap[K, V])

// LruMapWithMetric reports the number of cached items under the given name.
func LruMapWithMetric[K comparable, V any](name string) LruMapOpt[K, V] {
	return func(m *LruMap[K, V]) {
		m.gauge = metrics.GetOrRegisterGauge("arb/staker/lru/"+name, nil)
	}
}

func NewLruMap[K comparable, V any](capacity int, opts ...LruMapOpt[K, V]) *LruMap[K, V] {
	m := &LruMap[K, V]{}
	for _, opt := range opts {
		opt(m)
	}
	if capacity > 0 {
		// Can't fail because capacity > 0
		m.items, _ = simplelru.NewLRU[K, V](capacity, nil)
	}
	return m
}

func (s *LruMap[K, V]) updateGauge() {
	if s.gauge != nil {
		s.gauge.Update(int64(s.items.Len()))
	}
}

func (s *LruMap[K, V]) Put(k K, v V) {
	if s.items == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.items.Add(k, v)
	s.updateGauge()
}

func (s *LruMap[K, V]) Has(k K) bool {
	if s.items == nil {
		return false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.items.Contains(k)
}

func (s *LruMap[K, V]) NumItems() uint64 {
	if s.items == nil {
		return 0
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return uint64(s.items.Len())
}

// TryGet looks k up and marks it as recently used.
func (s *LruMap[K, V]) TryGet(k K) (V, bool) {
	if s.items == nil {
		var empty V
		return empty, false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.items.Get(k)
}

func (s *LruMap[K, V]) Delete(k K) {
	if s.items == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.items.Remove(k)
	s.updateGauge()
}

// Purge drops every entry.
func (s *LruMap[K, V]) Purge() {
	if s.items == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.items.Purge()
	s.updateGauge()
}
