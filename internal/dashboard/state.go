// Package dashboard holds the live application state shared by the HTTP
// server and the background refresher: the latest snapshots, the latest
// correlation, and the notifications derived from changes between them.
package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lox/heliotrends/internal/metrics"
	"github.com/lox/heliotrends/internal/models"
)

const (
	// MaxNotifications caps the notification list; the oldest are dropped.
	MaxNotifications = 50
	// DefaultAutoHide is how long an auto-hiding notification stays unread.
	DefaultAutoHide = 5 * time.Second
)

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
	AutoHide  bool             `json:"autoHide"`
}

// Snapshot is a point-in-time copy of the live data.
type Snapshot struct {
	Solar       *models.SolarSnapshot
	Trending    *models.TrendingSnapshot
	Correlation *models.CorrelationResult
	Summary     string
	UpdatedAt   time.Time
}

// Hook derives notifications from a state change. prev is the zero
// Snapshot before the first update.
type Hook func(prev, next Snapshot) []Notification

// State is safe for concurrent use.
type State struct {
	mu            sync.RWMutex
	current       Snapshot
	notifications []Notification // newest first
	hooks         []Hook
	subscribers   map[int]chan Notification
	nextSub       int
	autoHide      time.Duration
	now           func() time.Time
}

// NewState returns an empty state running DefaultHooks on every update.
func NewState() *State {
	return &State{
		hooks:       DefaultHooks(),
		subscribers: make(map[int]chan Notification),
		autoHide:    DefaultAutoHide,
		now:         time.Now,
	}
}

// WithHooks replaces the post-update hooks.
func (s *State) WithHooks(hooks ...Hook) *State {
	s.hooks = hooks
	return s
}

// WithAutoHide replaces the auto-hide delay.
func (s *State) WithAutoHide(d time.Duration) *State {
	s.autoHide = d
	return s
}

// WithClock replaces the clock used for timestamps.
func (s *State) WithClock(now func() time.Time) *State {
	s.now = now
	return s
}

// Update replaces the live data and runs every hook against the previous
// and new snapshots. Nil fields in next keep their previous value.
func (s *State) Update(next Snapshot) []Notification {
	s.mu.Lock()
	prev := s.current
	if next.Solar == nil {
		next.Solar = prev.Solar
	}
	if next.Trending == nil {
		next.Trending = prev.Trending
	}
	if next.Correlation == nil {
		next.Correlation = prev.Correlation
	}
	if next.Summary == "" {
		next.Summary = prev.Summary
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now().UTC()
	}
	s.current = next
	hooks := s.hooks
	s.mu.Unlock()

	var emitted []Notification
	for _, hook := range hooks {
		for _, n := range hook(prev, next) {
			emitted = append(emitted, s.Add(n))
		}
	}
	return emitted
}

// Snapshot returns the current live data.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Add assigns an ID and timestamp to n, stores it, and publishes it to
// subscribers. Auto-hiding notifications are marked read after the
// auto-hide delay.
func (s *State) Add(n Notification) Notification {
	n.ID = uuid.NewString()
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	n.Read = false

	s.mu.Lock()
	s.notifications = append([]Notification{n}, s.notifications...)
	if len(s.notifications) > MaxNotifications {
		s.notifications = s.notifications[:MaxNotifications]
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			// slow subscriber; it can resync from Notifications()
		}
	}
	autoHide := s.autoHide
	s.mu.Unlock()

	metrics.NotificationsEmitted.WithLabelValues(string(n.Type)).Inc()

	if n.AutoHide && autoHide > 0 {
		id := n.ID
		time.AfterFunc(autoHide, func() { s.MarkRead(id) })
	}
	return n
}

// Notifications returns a copy of the notifications, newest first.
func (s *State) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *State) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, no := range s.notifications {
		if !no.Read {
			n++
		}
	}
	return n
}

// MarkRead marks one notification read. It reports whether id was found.
func (s *State) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return true
		}
	}
	return false
}

func (s *State) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
}

// Clear removes all notifications.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = nil
}

// Subscribe returns a channel receiving every notification added after the
// call, and a function that unsubscribes and closes the channel.
func (s *State) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
