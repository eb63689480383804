// Package calendar keeps a per-user working set of raw tasks and tags in
// sync with storage and derives the visible event instances from it.
package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/recur"
)

// maxCachedRanges bounds the number of expanded windows kept per snapshot.
const maxCachedRanges = 32

// Options are the expansion settings shared by every feed.
type Options struct {
	Location              *time.Location
	DefaultColor          string
	MaxOccurrencesPerTask int
}

type rangeKey struct {
	start, end int64
}

// Feed holds the latest snapshot for one user. Every snapshot replaces
// the previous one wholesale; nothing is merged.
type Feed struct {
	opts Options

	mu       sync.RWMutex
	snap     model.Snapshot
	loaded   bool
	ready    chan struct{}
	changed  chan struct{}
	done     chan struct{}
	cache    map[rangeKey]recur.ExpandResult
	cacheVer uint64
}

func NewFeed(opts Options) *Feed {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Feed{
		opts:    opts,
		ready:   make(chan struct{}),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		cache:   make(map[rangeKey]recur.ExpandResult),
	}
}

// Apply replaces the working set with snap and wakes everyone waiting on
// Changed. A snapshot older than the current one is ignored.
func (f *Feed) Apply(snap model.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded && snap.Version < f.snap.Version {
		appLog.Debug("stale snapshot ignored", "user", snap.UserID, "version", snap.Version, "current", f.snap.Version)
		return
	}
	f.snap = snap
	if !f.loaded {
		f.loaded = true
		close(f.ready)
	}
	close(f.changed)
	f.changed = make(chan struct{})
}

// Run applies snapshots from ch until it is closed or ctx ends.
func (f *Feed) Run(ctx context.Context, ch <-chan model.Snapshot) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			f.Apply(snap)
		}
	}
}

// Done is closed once Run returns.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the first snapshot has been applied.
func (f *Feed) Wait(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Changed returns a channel closed on the next Apply.
func (f *Feed) Changed() <-chan struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.changed
}

// Snapshot returns the current working set.
func (f *Feed) Snapshot() model.Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Events expands the current working set over [start, end].
func (f *Feed) Events(start, end time.Time) (recur.ExpandResult, error) {
	key := rangeKey{start.UnixNano(), end.UnixNano()}

	f.mu.RLock()
	snap := f.snap
	if f.cacheVer == snap.Version {
		if res, ok := f.cache[key]; ok {
			f.mu.RUnlock()
			return res, nil
		}
	}
	f.mu.RUnlock()

	res, err := recur.Expand(snap.Tasks, snap.Tags, recur.ExpandConfig{
		Location:              f.opts.Location,
		RangeStart:            start,
		RangeEnd:              end,
		DefaultColor:          f.opts.DefaultColor,
		MaxOccurrencesPerTask: f.opts.MaxOccurrencesPerTask,
	})
	if err != nil {
		return recur.ExpandResult{}, err
	}

	f.mu.Lock()
	if f.snap.Version == snap.Version {
		if f.cacheVer != snap.Version || len(f.cache) >= maxCachedRanges {
			f.cache = make(map[rangeKey]recur.ExpandResult)
			f.cacheVer = snap.Version
		}
		f.cache[key] = res
	}
	f.mu.Unlock()
	return res, nil
}

// WaitVersion blocks until the applied snapshot is at least version v.
func (f *Feed) WaitVersion(ctx context.Context, v uint64) error {
	for {
		f.mu.RLock()
		current, loaded, changed := f.snap.Version, f.loaded, f.changed
		f.mu.RUnlock()
		if loaded && current >= v {
			return nil
		}
		select {
		case <-changed:
		case <-f.done:
			return errors.New("feed stopped")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
