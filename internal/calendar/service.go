package calendar

import (
	"context"
	"sync"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// Subscriber yields the snapshots of one user: the current one first,
// then one after every write.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan model.Snapshot, error)
}

// Service owns one live Feed per user, created on first use.
type Service struct {
	ctx  context.Context
	sub  Subscriber
	opts Options

	mu    sync.Mutex
	feeds map[string]*Feed
}

// NewService returns a Service whose feeds stop when ctx ends.
func NewService(ctx context.Context, sub Subscriber, opts Options) *Service {
	return &Service{
		ctx:   ctx,
		sub:   sub,
		opts:  opts,
		feeds: make(map[string]*Feed),
	}
}

// Feed returns the live feed of userID, subscribing if needed, once it
// holds its first snapshot.
func (s *Service) Feed(ctx context.Context, userID string) (*Feed, error) {
	f, err := s.feed(userID)
	if err != nil {
		return nil, err
	}
	if err := f.Wait(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) feed(userID string) (*Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.feeds[userID]; ok {
		select {
		case <-f.Done():
			// subscription ended, resubscribe below
		default:
			return f, nil
		}
	}

	ch, err := s.sub.Subscribe(s.ctx, userID)
	if err != nil {
		return nil, err
	}
	f := NewFeed(s.opts)
	s.feeds[userID] = f
	go f.Run(s.ctx, ch)
	appLog.Debug("calendar feed started", "user", userID)
	return f, nil
}
