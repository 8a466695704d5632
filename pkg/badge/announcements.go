package badge

import (
	"context"
	"fmt"
	"slices"
	"time"

	"fieldsync/internal/interval"
	"fieldsync/pkg/domain"
)

// NewWindow is how long an announcement stays "new" after creation or
// after its last read.
const NewWindow = 24 * time.Hour

// IsNew is true when the announcement was created within the window or read
// within the window.
func (e *Engine) IsNew(a domain.Announcement, now time.Time) bool {
	if !a.CreatedAt.IsZero() && now.Sub(a.CreatedAt) <= NewWindow {
		return true
	}
	if last, ok := e.LastRead(a); ok && now.Sub(last) <= NewWindow {
		return true
	}
	return false
}

// SortAnnouncements orders pinned first, then newest first. Equal keys keep
// their input order.
func SortAnnouncements(list []domain.Announcement) {
	slices.SortStableFunc(list, func(a, b domain.Announcement) int {
		if a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// NewBadges maps announcement id to its current "new" flag.
func (e *Engine) NewBadges(list []domain.Announcement, now time.Time) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, a := range list {
		out[a.ID] = e.IsNew(a, now)
	}
	return out
}

// NewBadgeTicker recomputes "new" flags on a fixed interval so badges expire
// without a refetch. current supplies the displayed list; publish receives
// the flags.
func (e *Engine) NewBadgeTicker(every time.Duration, current func() []domain.Announcement, publish func(map[string]bool)) *interval.Runner {
	return interval.New(interval.Task{
		Name:      "announcement-new-badges",
		Every:     every,
		Immediate: true,
		Run: func(context.Context) error {
			publish(e.NewBadges(current(), time.Now()))
			return nil
		},
	})
}

// MarkCommentsRead adds ids to the read set kept for a dashboard role.
func (e *Engine) MarkCommentsRead(ctx context.Context, role string, ids ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, err := e.readCommentsLocked(ctx, role)
	if err != nil {
		return err
	}
	next := make(map[string]struct{}, len(set)+len(ids))
	for id := range set {
		next[id] = struct{}{}
	}
	for _, id := range ids {
		next[id] = struct{}{}
	}
	key := keyReadCommentsPrefix + role
	if err := e.kv.Save(ctx, key, fromSet(next)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	e.st.readComments[role] = next
	return nil
}

// UnreadComments counts comments not yet read under role, ignoring the
// viewer's own.
func (e *Engine) UnreadComments(ctx context.Context, role, viewerID string, comments []domain.Comment) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, err := e.readCommentsLocked(ctx, role)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range comments {
		if c.AuthorID == viewerID {
			continue
		}
		if _, ok := set[c.ID]; !ok {
			n++
		}
	}
	return n, nil
}

func (e *Engine) readCommentsLocked(ctx context.Context, role string) (map[string]struct{}, error) {
	if set, ok := e.st.readComments[role]; ok {
		return set, nil
	}
	var ids []string
	key := keyReadCommentsPrefix + role
	if _, err := e.kv.Load(ctx, key, &ids); err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	set := toSet(ids)
	e.st.readComments[role] = set
	return set, nil
}
