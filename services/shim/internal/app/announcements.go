package app

import (
	"context"
	"strings"

	"fieldsync/internal/util"
	"fieldsync/pkg/badge"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/store"
)

// AnnouncementInput is the admin create body.
type AnnouncementInput struct {
	Title    string          `json:"title" validate:"required,max=200"`
	Content  string          `json:"content" validate:"required,max=10000"`
	Type     string          `json:"type" validate:"omitempty,max=40"`
	Priority domain.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	IsPinned bool            `json:"is_pinned"`
}

// ListAnnouncements returns announcements with the viewer's read state,
// pinned first then newest first. Inactive ones are visible to admins only.
func (a *App) ListAnnouncements(ctx context.Context, viewer domain.Profile) ([]domain.Announcement, error) {
	list, err := store.ListAs[domain.Announcement](ctx, a.db, domain.RootAnnouncements)
	if err != nil {
		return nil, domain.Upstream("list announcements", err)
	}
	out := list[:0]
	for _, ann := range list {
		if !ann.IsActive && !viewer.IsAdmin() {
			continue
		}
		marker, ok, err := store.GetAs[domain.ReadMarker](ctx, a.db, domain.ReadMarkerPath(ann.ID, viewer.ID))
		if err != nil {
			return nil, domain.Upstream("load read marker", err)
		}
		ann.IsRead = ok && marker.Read
		ann.ReadAt = nil
		if ann.IsRead {
			at := marker.ReadAt
			ann.ReadAt = &at
		}
		out = append(out, ann)
	}
	badge.SortAnnouncements(out)
	return out, nil
}

// CreateAnnouncement stores a new active announcement and queues a push to
// everyone.
func (a *App) CreateAnnouncement(ctx context.Context, admin domain.Profile, in AnnouncementInput) (domain.Announcement, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.Announcement{}, err
	}
	in.Title = a.clean(in.Title)
	in.Content = a.clean(in.Content)
	if err := a.check(in); err != nil {
		return domain.Announcement{}, err
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if in.Type == "" {
		in.Type = "general"
	}
	now := a.now().UTC()
	ann := domain.Announcement{
		ID:          util.NewPushID(now),
		Title:       in.Title,
		Content:     in.Content,
		Type:        in.Type,
		Priority:    in.Priority,
		Author:      admin.Name,
		CreatedAt:   now,
		CreatedAtTS: now.UnixMilli(),
		IsActive:    true,
		IsPinned:    in.IsPinned,
	}
	if err := a.db.Set(ctx, domain.AnnouncementPath(ann.ID), ann); err != nil {
		return domain.Announcement{}, domain.Upstream("create announcement", err)
	}
	a.enqueuePush(ctx, domain.PushJob{
		Kind:  domain.PushAnnouncement,
		RefID: ann.ID,
		Title: "New announcement",
		Body:  ann.Title,
		URL:   "/announcements",
	})
	return ann, nil
}

// TogglePin flips is_pinned in one atomic read-modify-write.
func (a *App) TogglePin(ctx context.Context, admin domain.Profile, id string) (domain.Announcement, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.Announcement{}, err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Announcement{}, domain.Validation("announcement_id is required")
	}
	var pinned bool
	found, err := a.db.Transform(ctx, domain.AnnouncementPath(id), func(doc map[string]any) error {
		current, _ := doc["is_pinned"].(bool)
		pinned = !current
		doc["is_pinned"] = pinned
		return nil
	})
	if err != nil {
		return domain.Announcement{}, domain.Upstream("pin announcement", err)
	}
	if !found {
		return domain.Announcement{}, domain.NotFound("Announcement not found")
	}
	ann, ok, err := store.GetAs[domain.Announcement](ctx, a.db, domain.AnnouncementPath(id))
	if err != nil {
		return domain.Announcement{}, domain.Upstream("load announcement", err)
	}
	if !ok {
		return domain.Announcement{}, domain.NotFound("Announcement not found")
	}
	ann.IsPinned = pinned
	return ann, nil
}

// MarkRead records the viewer's read marker.
func (a *App) MarkRead(ctx context.Context, viewer domain.Profile, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Validation("announcement_id is required")
	}
	var ann domain.Announcement
	ok, err := a.db.Get(ctx, domain.AnnouncementPath(id), &ann)
	if err != nil {
		return domain.Upstream("load announcement", err)
	}
	if !ok {
		return domain.NotFound("Announcement not found")
	}
	marker := domain.ReadMarker{AnnouncementID: id, UserID: viewer.ID, Read: true, ReadAt: a.now().UTC()}
	if err := a.db.Set(ctx, domain.ReadMarkerPath(id, viewer.ID), marker); err != nil {
		return domain.Upstream("mark read", err)
	}
	return nil
}
