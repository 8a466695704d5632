package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"fieldsync/internal/alerts"
	"fieldsync/internal/util"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/store"
)

// Multi-write step names reported in partial write failures.
const (
	StepProgressRecord  = "progress_record"
	StepProgressIndex   = "progress_index"
	StepProgressComment = "progress_comment"
	StepProjectProgress = "project_progress"
	StepReviewRecord    = "review_record"
	StepReviewComment   = "review_comment"
)

// ProgressInput is action=update_progress.
type ProgressInput struct {
	ProjectID     string               `validate:"required"`
	Percentage    int                  `validate:"gte=0,lte=100"`
	Status        domain.ProjectStatus `validate:"omitempty,oneof=pending in_progress completed"`
	Note          string               `validate:"max=10000"`
	ClientID      string               `validate:"max=64"`
	EvidencePhoto *Upload
	Location      *domain.GeoPoint
}

// ProgressResult is returned by SubmitProgress.
type ProgressResult struct {
	ProgressID string
	Record     domain.ProgressRecord
	Comment    domain.Comment
	Project    domain.Project
}

// ListProgress returns a project's progress records, newest first.
func (a *App) ListProgress(ctx context.Context, viewer domain.Profile, projectID string) ([]domain.ProgressRecord, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.Validation("project_id is required")
	}
	p, ok, err := a.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NotFound("Project not found")
	}
	if !viewer.IsAdmin() && !p.IsAssigned(viewer.ID) {
		return nil, domain.Forbidden("Not assigned to this project")
	}
	list, err := store.ListAs[domain.ProgressRecord](ctx, a.db, domain.ProjectProgressPath(projectID))
	if err != nil {
		return nil, domain.Upstream("list progress", err)
	}
	slices.SortStableFunc(list, func(x, y domain.ProgressRecord) int { return y.CreatedAt.Compare(x.CreatedAt) })
	return list, nil
}

// SubmitProgress writes the progress record, its index entry, the paired
// progress comment and the project's progress as four separate steps. Every
// step is keyed by one progress id generated up front, so retrying a step
// is idempotent. A step that still fails after an earlier step succeeded
// yields a PartialWrite error naming the completed steps; nothing is rolled
// back.
func (a *App) SubmitProgress(ctx context.Context, user domain.Profile, in ProgressInput) (ProgressResult, error) {
	in.Note = a.clean(in.Note)
	if err := a.check(in); err != nil {
		return ProgressResult{}, err
	}
	project, ok, err := a.loadProject(ctx, in.ProjectID)
	if err != nil {
		return ProgressResult{}, err
	}
	if !ok {
		return ProgressResult{}, domain.NotFound("Project not found")
	}
	if !user.IsAdmin() && !project.IsAssigned(user.ID) {
		return ProgressResult{}, domain.Forbidden("Not assigned to this project")
	}
	if err := validLocation(in.Location); err != nil {
		return ProgressResult{}, err
	}

	status := in.Status
	if status == "" || in.Percentage >= 100 {
		status = domain.StatusForProgress(in.Percentage)
	}
	var evidence string
	if in.EvidencePhoto != nil {
		atts, err := a.uploadAll(ctx, "evidence", in.ProjectID, []Upload{*in.EvidencePhoto})
		if err != nil {
			return ProgressResult{}, err
		}
		evidence = atts[0].URL
	}

	now := a.now().UTC()
	progressID := util.NewPushID(now)
	pct := in.Percentage
	record := domain.ProgressRecord{
		ID:                 progressID,
		ProjectID:          in.ProjectID,
		UserID:             user.ID,
		UserEmail:          user.Email,
		ProgressPercentage: pct,
		ProgressStatus:     status,
		Note:               in.Note,
		EvidencePhoto:      evidence,
		Location:           in.Location,
		ApprovalStatus:     domain.ApprovalPending,
		CreatedAt:          now,
	}
	comment := domain.Comment{
		ID:                 progressID,
		Text:               in.Note,
		CreatedAt:          now,
		AuthorID:           user.ID,
		AuthorEmail:        user.Email,
		AccountType:        user.AccountType,
		ProgressPercentage: &pct,
		ProgressStatus:     status,
		EvidencePhoto:      evidence,
		Location:           in.Location,
		ApprovalStatus:     domain.ApprovalPending,
		ProgressID:         progressID,
		ClientID:           strings.TrimSpace(in.ClientID),
	}
	if evidence != "" {
		comment.Attachments = []domain.Attachment{{Name: in.EvidencePhoto.Name, Type: in.EvidencePhoto.ContentType, Size: in.EvidencePhoto.Size, URL: evidence}}
	}
	index := domain.ProgressIndexEntry{ProjectID: in.ProjectID, ProgressKey: progressID, CommentID: comment.ID}
	projectPatch := map[string]any{"progress": pct, "status": status}

	steps := []writeStep{
		{StepProgressRecord, func(ctx context.Context) error {
			return a.db.Set(ctx, store.Join(domain.ProjectProgressPath(in.ProjectID), progressID), record)
		}},
		{StepProgressIndex, func(ctx context.Context) error {
			return a.db.Set(ctx, domain.ProgressIndexPath(progressID), index)
		}},
		{StepProgressComment, func(ctx context.Context) error {
			return a.db.Set(ctx, store.Join(domain.ProjectCommentsPath(in.ProjectID), comment.ID), comment)
		}},
		{StepProjectProgress, func(ctx context.Context) error {
			return a.update(ctx, domain.ProjectPath(in.ProjectID), projectPatch)
		}},
	}
	if err := a.multiWrite(ctx, "progress.submit", progressID, steps); err != nil {
		return ProgressResult{}, err
	}

	updated := project
	updated.Progress = pct
	updated.Status = status
	a.notifyCompletion(ctx, project, updated)
	return ProgressResult{ProgressID: progressID, Record: record, Comment: comment, Project: updated}, nil
}

// ReviewInput is action=review_progress.
type ReviewInput struct {
	ProgressID string                `validate:"required"`
	Status     domain.ApprovalStatus `validate:"required,oneof=PENDING APPROVED REJECTED"`
}

// ReviewProgress sets the approval status on a progress record and its
// paired comment. An unknown progress id is NotFound and writes nothing. A
// paired comment lost to an earlier partial write fails the second step.
func (a *App) ReviewProgress(ctx context.Context, admin domain.Profile, in ReviewInput) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	in.Status = domain.ApprovalStatus(strings.ToUpper(strings.TrimSpace(string(in.Status))))
	if err := a.check(in); err != nil {
		return err
	}
	entry, ok, err := store.GetAs[domain.ProgressIndexEntry](ctx, a.db, domain.ProgressIndexPath(in.ProgressID))
	if err != nil {
		return domain.Upstream("load progress index", err)
	}
	if !ok {
		return domain.NotFound("Progress not found")
	}
	recordPath := store.Join(domain.ProjectProgressPath(entry.ProjectID), entry.ProgressKey)
	var record domain.ProgressRecord
	found, err := a.db.Get(ctx, recordPath, &record)
	if err != nil {
		return domain.Upstream("load progress", err)
	}
	if !found {
		return domain.NotFound("Progress not found")
	}

	now := a.now().UTC()
	recordPatch := map[string]any{"approval_status": in.Status, "reviewed_by": admin.ID, "reviewed_at": now}
	commentPath := store.Join(domain.ProjectCommentsPath(entry.ProjectID), entry.CommentID)
	return a.multiWrite(ctx, "progress.review", in.ProgressID, []writeStep{
		{StepReviewRecord, func(ctx context.Context) error {
			return a.update(ctx, recordPath, recordPatch)
		}},
		{StepReviewComment, func(ctx context.Context) error {
			return a.update(ctx, commentPath, map[string]any{"approval_status": in.Status})
		}},
	})
}

// errMissingDocument fails a multi-write step whose target document is
// absent. Retrying cannot help, so it is not retried.
var errMissingDocument = errors.New("document missing")

// update patches an existing document; an absent one is errMissingDocument.
func (a *App) update(ctx context.Context, path string, fields map[string]any) error {
	found, err := a.db.Update(ctx, path, fields)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update %s: %w", path, errMissingDocument)
	}
	return nil
}

type writeStep struct {
	name string
	run  func(context.Context) error
}

// multiWrite runs steps in order with per-step retries.
func (a *App) multiWrite(ctx context.Context, op, subject string, steps []writeStep) error {
	for i, step := range steps {
		err := a.retry(ctx, step.run)
		if err == nil {
			continue
		}
		if i == 0 {
			a.log(ctx).Warn("multi-write aborted before any step", "op", op, "subject", subject, "step", step.name, "err", err)
			return domain.Upstream(op, err)
		}
		completed := make([]string, 0, i)
		for _, done := range steps[:i] {
			completed = append(completed, done.name)
		}
		a.log(ctx).Error("partial_write_failure",
			"op", op,
			"subject", subject,
			"failed_step", step.name,
			"completed", completed,
			"err", err,
		)
		a.alerts.Escalate(ctx, alerts.Alert{
			Event:   alerts.EventPartialWriteFailure,
			Subject: op,
			Err:     err,
			Fields:  map[string]any{"subject": subject, "failed_step": step.name, "completed": completed},
		})
		return domain.PartialWrite(op, completed, err)
	}
	return nil
}

func validLocation(loc *domain.GeoPoint) error {
	if loc == nil {
		return nil
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return domain.Validation("location is out of range")
	}
	if loc.Accuracy < 0 {
		return domain.Validation("accuracy must not be negative")
	}
	return nil
}
