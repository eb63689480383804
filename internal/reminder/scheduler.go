// Package reminder delivers due reminders on a cron schedule.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/store"
)

// DefaultSpec checks for due reminders every minute.
const DefaultSpec = "* * * * *"

// Store is the part of storage the scheduler needs.
type Store interface {
	ListDueReminders(ctx context.Context, now time.Time) ([]store.DueReminder, error)
	MarkReminderNotified(ctx context.Context, id string, at time.Time) error
}

// Notifier delivers one reminder to its owner.
type Notifier interface {
	Notify(ctx context.Context, userID string, r model.Reminder) error
}

type Scheduler struct {
	cron     *cron.Cron
	spec     string
	store    Store
	notifier Notifier
	now      func() time.Time

	// running serializes ticks; a slow notifier must not overlap itself.
	running sync.Mutex
}

// New builds a scheduler running spec (standard 5-field cron) in loc.
func New(st Store, n Notifier, spec string, loc *time.Location) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		spec:     spec,
		store:    st,
		notifier: n,
		now:      time.Now,
	}
}

// Start registers the check and starts the cron loop in the background.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("add reminder check %q: %w", s.spec, err)
	}
	s.cron.Start()
	appLog.Info("reminder scheduler started", "spec", s.spec)
	return nil
}

// Stop waits for a running check to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("reminder scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()
	if _, err := s.CheckDue(ctx); err != nil {
		appLog.Error("reminder check failed", err)
	}
}

// CheckDue notifies every due reminder once and returns how many were
// delivered. A failed delivery is logged and retried on the next check.
func (s *Scheduler) CheckDue(ctx context.Context) (int, error) {
	s.running.Lock()
	defer s.running.Unlock()

	now := s.now()
	due, err := s.store.ListDueReminders(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for _, d := range due {
		if err := s.notifier.Notify(ctx, d.UserID, d.Reminder); err != nil {
			appLog.Error("reminder notify failed", err, "reminder", d.Reminder.ID, "user", d.UserID)
			continue
		}
		if err := s.store.MarkReminderNotified(ctx, d.Reminder.ID, now); err != nil {
			appLog.Error("reminder mark notified failed", err, "reminder", d.Reminder.ID)
			continue
		}
		sent++
	}
	if sent > 0 {
		appLog.Info("reminders delivered", "count", sent)
	}
	return sent, nil
}
