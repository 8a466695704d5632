// Package badge reconciles polled announcements and projects against the
// persisted notified sets, keeps the badge counters and raises grouped local
// notifications without ever re-notifying the same record.
package badge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"fieldsync/pkg/domain"
)

// Persisted keys.
const (
	KeyNotifiedAnnouncements = "notifiedAnnouncementIds"
	KeyNotifiedProjects      = "notifiedCompletedProjectIds"
	KeyAnnouncementBadge     = "announcementBadgeCount"
	KeyTaskBadge             = "taskCompletionBadgeCount"
	KeyReadTimestamps        = "announcementReadTimestamps"
	keyReadCommentsPrefix    = "readCommentIds:"
)

// Kind separates the two reconciliation streams.
type Kind string

const (
	KindAnnouncement     Kind = "announcement"
	KindCompletedProject Kind = "completed_project"
)

// Notification is one grouped local notification.
type Notification struct {
	Kind  Kind
	Title string
	Body  string
	IDs   []string
}

// Notifier shows local notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Outcome describes one reconciliation pass.
type Outcome struct {
	Seeded   bool
	Delta    []string
	Notified bool
	Badge    int
}

type state struct {
	notified       map[Kind]map[string]struct{}
	badges         map[Kind]int
	readTimestamps map[string]time.Time
	readComments   map[string]map[string]struct{}
}

// Engine owns the persisted notification state. Every mutation holds mu
// through read, modify and persist.
type Engine struct {
	kv       KV
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	st     state
	seeded map[Kind]bool
}

// NewEngine loads persisted state from kv.
func NewEngine(ctx context.Context, kv KV, notifier Notifier, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		kv:       kv,
		notifier: notifier,
		logger:   logger,
		seeded:   make(map[Kind]bool),
		st: state{
			notified:       map[Kind]map[string]struct{}{KindAnnouncement: {}, KindCompletedProject: {}},
			badges:         map[Kind]int{},
			readTimestamps: map[string]time.Time{},
			readComments:   map[string]map[string]struct{}{},
		},
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	for kind, key := range notifiedKeys {
		var ids []string
		if _, err := e.kv.Load(ctx, key, &ids); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		e.st.notified[kind] = toSet(ids)
	}
	for kind, key := range badgeKeys {
		var n int
		if _, err := e.kv.Load(ctx, key, &n); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
		e.st.badges[kind] = n
	}
	var stamps map[string]time.Time
	if _, err := e.kv.Load(ctx, KeyReadTimestamps, &stamps); err != nil {
		return fmt.Errorf("load %s: %w", KeyReadTimestamps, err)
	}
	if stamps != nil {
		e.st.readTimestamps = stamps
	}
	return nil
}

var (
	notifiedKeys = map[Kind]string{
		KindAnnouncement:     KeyNotifiedAnnouncements,
		KindCompletedProject: KeyNotifiedProjects,
	}
	badgeKeys = map[Kind]string{
		KindAnnouncement:     KeyAnnouncementBadge,
		KindCompletedProject: KeyTaskBadge,
	}
)

// ReconcileAnnouncements runs one cycle over freshly fetched announcements.
// Candidates are the active announcements unread by the viewer.
func (e *Engine) ReconcileAnnouncements(ctx context.Context, list []domain.Announcement) (Outcome, error) {
	titles := make(map[string]string)
	var candidates []string
	for _, a := range list {
		if a.IsActive && !a.IsRead {
			candidates = append(candidates, a.ID)
			titles[a.ID] = a.Title
		}
	}
	return e.reconcile(ctx, KindAnnouncement, candidates, titles)
}

// ReconcileProjects runs one cycle over freshly fetched projects; candidates
// are the completed ones.
func (e *Engine) ReconcileProjects(ctx context.Context, list []domain.Project) (Outcome, error) {
	titles := make(map[string]string)
	var candidates []string
	for _, p := range list {
		if p.IsCompleted() {
			candidates = append(candidates, p.ID)
			titles[p.ID] = p.Title
		}
	}
	return e.reconcile(ctx, KindCompletedProject, candidates, titles)
}

func (e *Engine) reconcile(ctx context.Context, kind Kind, candidates []string, titles map[string]string) (Outcome, error) {
	e.mu.Lock()
	notified := e.st.notified[kind]
	var delta []string
	for _, id := range candidates {
		if _, ok := notified[id]; !ok {
			delta = append(delta, id)
		}
	}
	if len(delta) == 0 {
		e.seeded[kind] = true
		out := Outcome{Badge: e.st.badges[kind]}
		e.mu.Unlock()
		return out, nil
	}

	next := maps.Clone(notified)
	for _, id := range delta {
		next[id] = struct{}{}
	}
	if !e.seeded[kind] {
		if err := e.kv.Save(ctx, notifiedKeys[kind], fromSet(next)); err != nil {
			e.mu.Unlock()
			return Outcome{}, fmt.Errorf("persist %s: %w", notifiedKeys[kind], err)
		}
		e.st.notified[kind] = next
		e.seeded[kind] = true
		out := Outcome{Seeded: true, Badge: e.st.badges[kind]}
		e.mu.Unlock()
		e.logger.Debug("notification state seeded", "kind", kind, "count", len(delta))
		return out, nil
	}

	badge := e.st.badges[kind] + len(delta)
	if err := e.kv.Save(ctx, notifiedKeys[kind], fromSet(next)); err != nil {
		e.mu.Unlock()
		return Outcome{}, fmt.Errorf("persist %s: %w", notifiedKeys[kind], err)
	}
	if err := e.kv.Save(ctx, badgeKeys[kind], badge); err != nil {
		e.mu.Unlock()
		return Outcome{}, fmt.Errorf("persist %s: %w", badgeKeys[kind], err)
	}
	e.st.notified[kind] = next
	e.st.badges[kind] = badge
	e.mu.Unlock()

	out := Outcome{Delta: delta, Badge: badge}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, group(kind, delta, titles)); err != nil {
			e.logger.Warn("local notification failed", "kind", kind, "err", err)
		} else {
			out.Notified = true
		}
	}
	return out, nil
}

func group(kind Kind, delta []string, titles map[string]string) Notification {
	n := Notification{Kind: kind, IDs: delta}
	switch kind {
	case KindAnnouncement:
		if len(delta) == 1 {
			n.Title = "New announcement"
			n.Body = titles[delta[0]]
		} else {
			n.Title = fmt.Sprintf("%d new announcements", len(delta))
		}
	case KindCompletedProject:
		if len(delta) == 1 {
			n.Title = "Project completed"
			n.Body = titles[delta[0]]
		} else {
			n.Title = fmt.Sprintf("%d projects completed", len(delta))
		}
	}
	return n
}

// Badges returns the announcement and task-completion counters.
func (e *Engine) Badges() (announcements, tasks int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.badges[KindAnnouncement], e.st.badges[KindCompletedProject]
}

// OpenNotifications is the only way the counters return to zero.
func (e *Engine) OpenNotifications(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for kind, key := range badgeKeys {
		if err := e.kv.Save(ctx, key, 0); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
		e.st.badges[kind] = 0
	}
	return nil
}

// MarkRead records when the viewer read an announcement.
func (e *Engine) MarkRead(ctx context.Context, announcementID string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := maps.Clone(e.st.readTimestamps)
	next[announcementID] = at.UTC()
	if err := e.kv.Save(ctx, KeyReadTimestamps, next); err != nil {
		return fmt.Errorf("persist %s: %w", KeyReadTimestamps, err)
	}
	e.st.readTimestamps = next
	return nil
}

// LastRead returns the most recent read time known for an announcement,
// from the server marker or the local map.
func (e *Engine) LastRead(a domain.Announcement) (time.Time, bool) {
	e.mu.Lock()
	local, ok := e.st.readTimestamps[a.ID]
	e.mu.Unlock()
	if a.ReadAt != nil && (!ok || a.ReadAt.After(local)) {
		return *a.ReadAt, true
	}
	return local, ok
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func fromSet(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}
