package app

import (
	"context"
	"slices"
	"strings"

	"fieldsync/internal/util"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/storage"
	"fieldsync/pkg/store"
)

// CommentTarget names the thread: exactly one of the ids is set.
type CommentTarget struct {
	ProjectID      string
	AnnouncementID string
}

func (t CommentTarget) path() string {
	if t.ProjectID != "" {
		return domain.ProjectCommentsPath(t.ProjectID)
	}
	return domain.AnnouncementCommentsPath(t.AnnouncementID)
}

func (t CommentTarget) owner() string {
	if t.ProjectID != "" {
		return t.ProjectID
	}
	return t.AnnouncementID
}

func (a *App) resolveTarget(ctx context.Context, viewer domain.Profile, t CommentTarget) (CommentTarget, error) {
	t.ProjectID = strings.TrimSpace(t.ProjectID)
	t.AnnouncementID = strings.TrimSpace(t.AnnouncementID)
	switch {
	case t.ProjectID != "" && t.AnnouncementID != "":
		return t, domain.Validation("use either project_id or announcement_id")
	case t.ProjectID != "":
		p, ok, err := a.loadProject(ctx, t.ProjectID)
		if err != nil {
			return t, err
		}
		if !ok {
			return t, domain.NotFound("Project not found")
		}
		if !viewer.IsAdmin() && !p.IsAssigned(viewer.ID) {
			return t, domain.Forbidden("Not assigned to this project")
		}
		return t, nil
	case t.AnnouncementID != "":
		var ann domain.Announcement
		ok, err := a.db.Get(ctx, domain.AnnouncementPath(t.AnnouncementID), &ann)
		if err != nil {
			return t, domain.Upstream("load announcement", err)
		}
		if !ok {
			return t, domain.NotFound("Announcement not found")
		}
		return t, nil
	default:
		return t, domain.Validation("project_id or announcement_id is required")
	}
}

// ListComments returns a thread oldest first.
func (a *App) ListComments(ctx context.Context, viewer domain.Profile, t CommentTarget) ([]domain.Comment, error) {
	t, err := a.resolveTarget(ctx, viewer, t)
	if err != nil {
		return nil, err
	}
	list, err := store.ListAs[domain.Comment](ctx, a.db, t.path())
	if err != nil {
		return nil, domain.Upstream("list comments", err)
	}
	slices.SortStableFunc(list, func(x, y domain.Comment) int { return x.CreatedAt.Compare(y.CreatedAt) })
	return list, nil
}

// CommentInput is a new comment. ClientID echoes the sender's provisional id.
type CommentInput struct {
	Text     string `validate:"max=10000"`
	ClientID string `validate:"max=64"`
	Files    []Upload
}

// CreateComment uploads attachments first so the stored comment only ever
// references durable URLs.
func (a *App) CreateComment(ctx context.Context, viewer domain.Profile, t CommentTarget, in CommentInput) (domain.Comment, error) {
	in.Text = a.clean(in.Text)
	in.ClientID = strings.TrimSpace(in.ClientID)
	if in.Text == "" && len(in.Files) == 0 {
		return domain.Comment{}, domain.Validation("comment text or attachment is required")
	}
	if err := a.check(in); err != nil {
		return domain.Comment{}, err
	}
	t, err := a.resolveTarget(ctx, viewer, t)
	if err != nil {
		return domain.Comment{}, err
	}
	attachments, err := a.uploadAll(ctx, "comments", t.owner(), in.Files)
	if err != nil {
		return domain.Comment{}, err
	}
	now := a.now().UTC()
	c := domain.Comment{
		ID:          util.NewPushID(now),
		Text:        in.Text,
		Attachments: attachments,
		CreatedAt:   now,
		AuthorID:    viewer.ID,
		AuthorEmail: viewer.Email,
		AccountType: viewer.AccountType,
		ClientID:    in.ClientID,
	}
	if err := a.db.Set(ctx, store.Join(t.path(), c.ID), c); err != nil {
		return domain.Comment{}, domain.Upstream("create comment", err)
	}
	return c, nil
}

func (a *App) uploadAll(ctx context.Context, folder, owner string, files []Upload) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		key := storage.ObjectKey(folder, owner, f.Name)
		u, err := a.blobs.Upload(ctx, key, f.Body, f.Size, f.ContentType)
		if err != nil {
			return nil, domain.Upstream("upload attachment", err)
		}
		out = append(out, domain.Attachment{Name: f.Name, Type: f.ContentType, Size: f.Size, URL: u})
	}
	return out, nil
}
