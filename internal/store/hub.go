package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// ErrClosed is returned by Subscribe after the storage has been closed.
var ErrClosed = errors.New("storage closed")

// hub keeps per-user subscriber channels and snapshot versions.
// Each channel has capacity one and always holds the newest snapshot.
type hub struct {
	load func(ctx context.Context, userID string, version uint64) (model.Snapshot, error)

	mu       sync.Mutex
	subs     map[string]map[chan model.Snapshot]struct{}
	versions map[string]uint64
	closed   bool
}

func newHub(s *Storage) *hub {
	return &hub{
		load:     s.loadSnapshot,
		subs:     make(map[string]map[chan model.Snapshot]struct{}),
		versions: make(map[string]uint64),
	}
}

// publish bumps the user's version and pushes a fresh snapshot to every
// subscriber. Loading and sending happen under mu so subscribers never
// observe versions out of order. If the snapshot cannot be loaded the
// version stays put, so readers never wait for a snapshot that will not
// arrive; the next write publishes the combined change.
func (h *hub) publish(ctx context.Context, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.versions[userID] + 1
	if h.closed || len(h.subs[userID]) == 0 {
		h.versions[userID] = next
		return
	}

	snap, err := h.load(context.WithoutCancel(ctx), userID, next)
	if err != nil {
		appLog.Error("load snapshot", err, "user", userID)
		return
	}
	h.versions[userID] = next
	for ch := range h.subs[userID] {
		offer(ch, snap)
	}
}

// offer replaces whatever is buffered in ch with snap.
func offer(ch chan model.Snapshot, snap model.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *hub) add(userID string) (chan model.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	snap, err := h.load(context.Background(), userID, h.versions[userID])
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Snapshot, 1)
	ch <- snap
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan model.Snapshot]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	return ch, nil
}

func (h *hub) remove(userID string, ch chan model.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	close(ch)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for userID, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, userID)
	}
}

func (h *hub) version(userID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.versions[userID]
}

func (s *Storage) loadSnapshot(ctx context.Context, userID string, version uint64) (model.Snapshot, error) {
	tasks, err := listTasks(ctx, s.db, userID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list tasks: %w", err)
	}
	tags, err := listTags(ctx, s.db, userID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list tags: %w", err)
	}
	return model.Snapshot{UserID: userID, Version: version, Tasks: tasks, Tags: tags}, nil
}

// Snapshot returns the current tasks and tags of userID. Version grows by
// one with every write that touches the user's calendar data.
func (s *Storage) Snapshot(ctx context.Context, userID string) (model.Snapshot, error) {
	return s.loadSnapshot(ctx, userID, s.hub.version(userID))
}

// Subscribe returns a channel that immediately yields the current snapshot
// and then the latest snapshot after each write. A slow reader only ever
// sees the newest state. The channel is closed when ctx is done or the
// storage is closed.
func (s *Storage) Subscribe(ctx context.Context, userID string) (<-chan model.Snapshot, error) {
	ch, err := s.hub.add(userID)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		s.hub.remove(userID, ch)
	}()
	return ch, nil
}

// Version returns the latest published version for userID.
func (s *Storage) Version(userID string) uint64 {
	return s.hub.version(userID)
}
