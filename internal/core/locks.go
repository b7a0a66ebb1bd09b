package core

import (
	"hash/fnv"
	"sort"
	"sync"
)

const lockStripes = 64

// keyLocks serializes lifecycle operations touching the same apartment or
// user inside one process. Keys hash onto a fixed set of stripes; stripes are
// always acquired in ascending order so overlapping key sets cannot deadlock.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func stripeOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}

// lock acquires the stripes for keys and returns the release function.
func (l *keyLocks) lock(keys ...string) func() {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		i := stripeOf(k)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}

func apartmentKey(no string) string { return "apartment:" + no }
func userKey(email string) string   { return "user:" + email }
