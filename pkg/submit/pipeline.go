// Package submit is the optimistic comment and progress submission
// pipeline: render a provisional record at once, write it, then swap it for
// the server record or roll it back and hand the draft back to the user.
package submit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"fieldsync/pkg/domain"
	"github.com/google/uuid"
)

// TempPrefix marks client-generated ids. Server ids never carry it.
const TempPrefix = "temp-"

// ErrInFlight rejects a second submission from a compose context whose
// previous submission has not resolved.
var ErrInFlight = errors.New("a submission is already in progress")

// File is an attachment selected in the compose input.
type File struct {
	Name string
	Type string
	Data []byte
}

func (f File) Size() int64 { return int64(len(f.Data)) }

// Draft is the content of a compose input.
type Draft struct {
	Text  string
	Files []File
}

func (d Draft) empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Files) == 0
}

func (d Draft) clone() Draft {
	return Draft{Text: d.Text, Files: slices.Clone(d.Files)}
}

// ProgressInput is a progress update as entered on the progress form.
type ProgressInput struct {
	Percentage    int
	Status        domain.ProjectStatus
	Note          string
	EvidencePhoto *File
	Location      *domain.GeoPoint
	// ClientID is set by the pipeline to the provisional entry's id.
	ClientID string
}

// ProgressResult is what the server returns for a progress submission.
type ProgressResult struct {
	ProgressID string
	Comment    domain.Comment
	Project    domain.Project
}

// Backend performs the network writes. The server stores clientID on the
// created comment.
type Backend interface {
	CreateComment(ctx context.Context, projectID, clientID, text string, files []File) (domain.Comment, error)
	SubmitProgress(ctx context.Context, projectID string, in ProgressInput) (ProgressResult, error)
	ReviewProgress(ctx context.Context, progressID string, status domain.ApprovalStatus) error
}

// Pipeline submits on behalf of one signed-in user.
type Pipeline struct {
	user    domain.Profile
	backend Backend
	board   *Board
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	drafts   map[string]Draft
	progress map[string]ProgressInput
	inFlight map[string]bool
}

func NewPipeline(user domain.Profile, backend Backend, board *Board, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		user:     user,
		backend:  backend,
		board:    board,
		logger:   logger,
		now:      time.Now,
		drafts:   make(map[string]Draft),
		progress: make(map[string]ProgressInput),
		inFlight: make(map[string]bool),
	}
}

// SetDraft stores what the user typed for projectID.
func (p *Pipeline) SetDraft(projectID string, d Draft) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drafts[projectID] = d.clone()
}

// Draft returns the compose input for projectID.
func (p *Pipeline) Draft(projectID string) Draft {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drafts[projectID].clone()
}

// ProgressDraft returns a progress form restored after a failed submission.
func (p *Pipeline) ProgressDraft(projectID string) (ProgressInput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.progress[projectID]
	return in, ok
}

func (p *Pipeline) begin(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[key] {
		return false
	}
	p.inFlight[key] = true
	return true
}

func (p *Pipeline) end(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, key)
}

// SubmitComment posts text and files to projectID. Empty input is ignored
// and returns a zero Comment with no error. On failure the provisional
// comment disappears and the exact draft is restored.
func (p *Pipeline) SubmitComment(ctx context.Context, projectID, text string, files []File) (domain.Comment, error) {
	draft := Draft{Text: text, Files: slices.Clone(files)}
	if draft.empty() {
		return domain.Comment{}, nil
	}
	key := "comment:" + projectID
	if !p.begin(key) {
		return domain.Comment{}, ErrInFlight
	}
	defer p.end(key)

	tempID := TempPrefix + uuid.NewString()
	provisional := domain.Comment{
		ID:          tempID,
		Text:        strings.TrimSpace(text),
		Attachments: pendingAttachments(files),
		CreatedAt:   p.now().UTC(),
		AuthorID:    p.user.ID,
		AuthorEmail: p.user.Email,
		AccountType: p.user.AccountType,
	}
	p.board.insert(projectID, provisional)
	p.SetDraft(projectID, Draft{})

	saved, err := p.backend.CreateComment(ctx, projectID, tempID, strings.TrimSpace(text), files)
	if err != nil {
		p.board.remove(projectID, tempID)
		p.SetDraft(projectID, draft)
		p.logger.Warn("comment submit failed", "project_id", projectID, "kind", domain.KindOf(err), "err", err)
		return domain.Comment{}, err
	}
	p.board.confirm(projectID, tempID, saved)
	return saved, nil
}

// SubmitProgress posts a progress update. The provisional progress comment
// and the project's progress are shown at once and rolled back on failure.
func (p *Pipeline) SubmitProgress(ctx context.Context, projectID string, in ProgressInput) (ProgressResult, error) {
	if in.Percentage < 0 || in.Percentage > 100 {
		return ProgressResult{}, domain.Validation("progress must be between 0 and 100")
	}
	key := "progress:" + projectID
	if !p.begin(key) {
		return ProgressResult{}, ErrInFlight
	}
	defer p.end(key)

	if in.Status == "" {
		in.Status = domain.StatusForProgress(in.Percentage)
	}
	tempID := TempPrefix + uuid.NewString()
	pct := in.Percentage
	provisional := domain.Comment{
		ID:                 tempID,
		Text:               strings.TrimSpace(in.Note),
		CreatedAt:          p.now().UTC(),
		AuthorID:           p.user.ID,
		AuthorEmail:        p.user.Email,
		AccountType:        p.user.AccountType,
		ProgressPercentage: &pct,
		ProgressStatus:     in.Status,
		Location:           in.Location,
		ApprovalStatus:     domain.ApprovalPending,
		ProgressID:         tempID,
	}
	p.board.insert(projectID, provisional)
	prev, hadRow := p.board.setProgress(projectID, in.Percentage)
	p.mu.Lock()
	delete(p.progress, projectID)
	p.mu.Unlock()

	sent := in
	sent.ClientID = tempID
	res, err := p.backend.SubmitProgress(ctx, projectID, sent)
	if err != nil {
		p.board.remove(projectID, tempID)
		if hadRow {
			p.board.restoreProject(prev, in.Percentage)
		}
		p.mu.Lock()
		p.progress[projectID] = in
		p.mu.Unlock()
		p.logger.Warn("progress submit failed", "project_id", projectID, "kind", domain.KindOf(err), "err", err)
		return ProgressResult{}, err
	}
	p.board.confirm(projectID, tempID, res.Comment)
	if res.Project.ID != "" {
		p.board.applyProject(res.Project)
	}
	return res, nil
}

// ReviewProgress approves or rejects a progress submission. Admin only.
func (p *Pipeline) ReviewProgress(ctx context.Context, progressID string, status domain.ApprovalStatus) error {
	if !p.user.IsAdmin() {
		return domain.Forbidden("admin access required")
	}
	if status != domain.ApprovalApproved && status != domain.ApprovalRejected && status != domain.ApprovalPending {
		return domain.Validation("invalid approval status")
	}
	if strings.HasPrefix(progressID, TempPrefix) {
		return domain.Validation("progress is still being saved")
	}
	if err := p.backend.ReviewProgress(ctx, progressID, status); err != nil {
		return err
	}
	p.board.setApproval(progressID, status)
	return nil
}

func pendingAttachments(files []File) []domain.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		out = append(out, domain.Attachment{Name: f.Name, Type: f.Type, Size: f.Size()})
	}
	return out
}
