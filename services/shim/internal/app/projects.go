package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"fieldsync/internal/util"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/store"
)

// ProjectInput is the admin create body.
type ProjectInput struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description" validate:"max=10000"`
	Deadline      string   `json:"deadline" validate:"omitempty,datetime=2006-01-02"`
	StartDate     string   `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	Manager       string   `json:"manager" validate:"max=120"`
	Budget        float64  `json:"budget" validate:"gte=0"`
	AssignedUsers []string `json:"assignedUsers"`
}

// ListProjects returns every project to admins and assigned projects to
// everyone else, newest first.
func (a *App) ListProjects(ctx context.Context, viewer domain.Profile) ([]domain.Project, error) {
	list, err := store.ListAs[domain.Project](ctx, a.db, domain.RootProjects)
	if err != nil {
		return nil, domain.Upstream("list projects", err)
	}
	if !viewer.IsAdmin() {
		list = slices.DeleteFunc(list, func(p domain.Project) bool { return !p.IsAssigned(viewer.ID) })
	}
	slices.SortStableFunc(list, func(x, y domain.Project) int { return y.CreatedAt.Compare(x.CreatedAt) })
	return list, nil
}

func (a *App) CreateProject(ctx context.Context, admin domain.Profile, in ProjectInput) (domain.Project, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.Project{}, err
	}
	in.Title = a.clean(in.Title)
	in.Description = a.clean(in.Description)
	if err := a.check(in); err != nil {
		return domain.Project{}, err
	}
	now := a.now().UTC()
	p := domain.Project{
		ID:            util.NewPushID(now),
		Title:         in.Title,
		Description:   in.Description,
		Status:        domain.ProjectPending,
		Deadline:      in.Deadline,
		Manager:       a.clean(in.Manager),
		Budget:        in.Budget,
		AssignedUsers: compactIDs(in.AssignedUsers),
		StartDate:     in.StartDate,
		CreatedAt:     now,
	}
	if err := a.db.Set(ctx, domain.ProjectPath(p.ID), p); err != nil {
		return domain.Project{}, domain.Upstream("create project", err)
	}
	return p, nil
}

var (
	adminProjectFields    = []string{"title", "description", "status", "progress", "deadline", "manager", "budget", "assignedUsers", "startDate"}
	assigneeProjectFields = []string{"status", "progress"}
)

// UpdateProject patches project id. Admins may edit every field; assigned
// users may only move progress and status.
func (a *App) UpdateProject(ctx context.Context, user domain.Profile, id string, fields map[string]any) (domain.Project, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Project{}, domain.Validation("id is required")
	}
	current, ok, err := a.loadProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, domain.NotFound("Project not found")
	}
	allowed := adminProjectFields
	if !user.IsAdmin() {
		if !current.IsAssigned(user.ID) {
			return domain.Project{}, domain.Forbidden("Not assigned to this project")
		}
		allowed = assigneeProjectFields
	}
	patch := map[string]any{}
	for _, key := range allowed {
		v, ok := fields[key]
		if !ok {
			continue
		}
		clean, err := a.projectField(key, v)
		if err != nil {
			return domain.Project{}, err
		}
		patch[key] = clean
	}
	if len(patch) == 0 {
		return domain.Project{}, domain.Validation("no editable fields supplied")
	}
	if pct, ok := patch["progress"].(int); ok && pct >= 100 {
		patch["status"] = domain.ProjectCompleted
	}
	if _, err := a.db.Update(ctx, domain.ProjectPath(id), patch); err != nil {
		return domain.Project{}, domain.Upstream("update project", err)
	}
	updated, ok, err := a.loadProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, domain.NotFound("Project not found")
	}
	a.notifyCompletion(ctx, current, updated)
	return updated, nil
}

func (a *App) loadProject(ctx context.Context, id string) (domain.Project, bool, error) {
	p, ok, err := store.GetAs[domain.Project](ctx, a.db, domain.ProjectPath(id))
	if err != nil {
		return domain.Project{}, false, domain.Upstream("load project", err)
	}
	return p, ok, nil
}

func (a *App) projectField(key string, v any) (any, error) {
	switch key {
	case "progress":
		n, ok := v.(float64)
		if !ok || n < 0 || n > 100 || n != float64(int(n)) {
			return nil, domain.Validation("progress must be a whole number between 0 and 100")
		}
		return int(n), nil
	case "budget":
		n, ok := v.(float64)
		if !ok || n < 0 {
			return nil, domain.Validation("budget must be a non-negative number")
		}
		return n, nil
	case "status":
		s, _ := v.(string)
		switch domain.ProjectStatus(s) {
		case domain.ProjectPending, domain.ProjectInProgress, domain.ProjectCompleted:
			return s, nil
		}
		return nil, domain.Validation("status must be pending, in_progress or completed")
	case "assignedUsers":
		raw, ok := v.([]any)
		if !ok {
			return nil, domain.Validation("assignedUsers must be a list")
		}
		ids := make([]string, 0, len(raw))
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, domain.Validation("assignedUsers must contain user ids")
			}
			ids = append(ids, s)
		}
		return compactIDs(ids), nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, domain.Validation(fmt.Sprintf("%s must be a string", key))
		}
		return a.clean(s), nil
	}
}

// notifyCompletion queues a push when a project has just become completed.
func (a *App) notifyCompletion(ctx context.Context, before, after domain.Project) {
	if before.IsCompleted() || !after.IsCompleted() {
		return
	}
	recipients := slices.Clone(after.AssignedUsers)
	users, err := a.ListUsers(ctx)
	if err != nil {
		a.log(ctx).Warn("completion push recipients unavailable", "project_id", after.ID, "err", err)
	}
	for _, u := range users {
		if u.IsAdmin() {
			recipients = append(recipients, u.ID)
		}
	}
	recipients = compactIDs(recipients)
	if len(recipients) == 0 {
		return
	}
	a.enqueuePush(ctx, domain.PushJob{
		Kind:    domain.PushProjectCompleted,
		RefID:   after.ID,
		Title:   "Project completed",
		Body:    after.Title,
		URL:     "/projects",
		UserIDs: recipients,
	})
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
