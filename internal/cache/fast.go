package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

type fastKey struct {
	user string
	typ  domain.PredictionType
}

type fastItem struct {
	key       fastKey
	result    *domain.PredictionResult
	expiresAt time.Time
}

type shard struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[fastKey]*list.Element
	capacity int
}

// FastTier is a sharded in-process LRU. Results are copied in and out so
// callers never share a pointer with the cache.
type FastTier struct {
	shards []*shard
}

// NewFastTier creates an LRU holding about size entries across n shards.
func NewFastTier(size, n int) *FastTier {
	if n <= 0 {
		n = 1
	}
	if size < n {
		size = n
	}
	per := (size + n - 1) / n
	f := &FastTier{shards: make([]*shard, n)}
	for i := range f.shards {
		f.shards[i] = &shard{ll: list.New(), items: make(map[fastKey]*list.Element), capacity: per}
	}
	return f
}

func (f *FastTier) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return f.shards[h.Sum32()%uint32(len(f.shards))]
}

// Get returns a copy of the entry and its expiry. Expired entries are
// removed and reported as missing.
func (f *FastTier) Get(userID string, t domain.PredictionType, now time.Time) (*domain.PredictionResult, time.Time, bool) {
	s := f.shardFor(userID)
	k := fastKey{userID, t}

	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[k]
	if !ok {
		return nil, time.Time{}, false
	}
	it := el.Value.(*fastItem)
	if !now.Before(it.expiresAt) {
		s.remove(el)
		return nil, time.Time{}, false
	}
	s.ll.MoveToFront(el)
	return cloneResult(it.result), it.expiresAt, true
}

// Set stores a copy of r, evicting the least recently used entry of the
// shard when it is full.
func (f *FastTier) Set(r *domain.PredictionResult, expiresAt time.Time) {
	s := f.shardFor(r.UserID)
	k := fastKey{r.UserID, r.Type}
	it := &fastItem{key: k, result: cloneResult(r), expiresAt: expiresAt}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[k]; ok {
		el.Value = it
		s.ll.MoveToFront(el)
		return
	}
	s.items[k] = s.ll.PushFront(it)
	for s.ll.Len() > s.capacity {
		s.remove(s.ll.Back())
	}
}

// Remove drops one entry.
func (f *FastTier) Remove(userID string, t domain.PredictionType) {
	s := f.shardFor(userID)
	s.mu.Lock()
	if el, ok := s.items[fastKey{userID, t}]; ok {
		s.remove(el)
	}
	s.mu.Unlock()
}

// RemoveUser drops every entry of userID and returns how many there were.
func (f *FastTier) RemoveUser(userID string) int {
	s := f.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range domain.AllPredictionTypes() {
		if el, ok := s.items[fastKey{userID, t}]; ok {
			s.remove(el)
			n++
		}
	}
	return n
}

// RemoveVersion drops every entry computed under version.
func (f *FastTier) RemoveVersion(version string) int {
	return f.removeWhere(func(it *fastItem) bool { return it.result.ModelVersion == version })
}

// PurgeExpired drops entries whose expiry is not after now.
func (f *FastTier) PurgeExpired(now time.Time) int {
	return f.removeWhere(func(it *fastItem) bool { return !now.Before(it.expiresAt) })
}

// Len is the number of entries across all shards.
func (f *FastTier) Len() int {
	n := 0
	for _, s := range f.shards {
		s.mu.Lock()
		n += s.ll.Len()
		s.mu.Unlock()
	}
	return n
}

func (f *FastTier) removeWhere(match func(*fastItem) bool) int {
	n := 0
	for _, s := range f.shards {
		s.mu.Lock()
		for el := s.ll.Front(); el != nil; {
			next := el.Next()
			if match(el.Value.(*fastItem)) {
				s.remove(el)
				n++
			}
			el = next
		}
		s.mu.Unlock()
	}
	return n
}

func (s *shard) remove(el *list.Element) {
	s.ll.Remove(el)
	delete(s.items, el.Value.(*fastItem).key)
}
