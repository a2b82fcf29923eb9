package store

import (
	"sort"
	"time"
)

// SeriesStatus summarizes one cached series.
type SeriesStatus struct {
	Count        int       `json:"count"`
	MinTimestamp time.Time `json:"min_timestamp"`
	MaxTimestamp time.Time `json:"max_timestamp"`
}

// Status is the store summary served on /status. Keys fetched without data
// map to nil.
type Status struct {
	StartTime time.Time                `json:"start_time"`
	Series    map[string]*SeriesStatus `json:"dfs"`
}

// Status summarizes every fetched key, each under its own lock. Keys are
// snapshotted first so the table mutex is not held while waiting on a fetch.
func (s *Store) Status() Status {
	s.mu.Lock()
	keys := make([]keyEntry, 0, len(s.entries))
	for k, e := range s.entries {
		keys = append(keys, keyEntry{name: k.String(), e: e})
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].name < keys[j].name })

	out := Status{StartTime: s.start, Series: make(map[string]*SeriesStatus, len(keys))}
	for _, ke := range keys {
		ke.e.mu.Lock()
		loaded, data := ke.e.loaded, ke.e.data
		var st *SeriesStatus
		if first, last, ok := data.Bounds(); ok {
			st = &SeriesStatus{Count: data.Len(), MinTimestamp: first, MaxTimestamp: last}
		}
		ke.e.mu.Unlock()
		if loaded {
			out.Series[ke.name] = st
		}
	}
	return out
}

type keyEntry struct {
	name string
	e    *entry
}
