package submit

import (
	"slices"
	"sync"

	"fieldsync/pkg/domain"
)

// Entry is a rendered comment. Pending entries are optimistic and still
// waiting for the server.
type Entry struct {
	Comment domain.Comment
	Pending bool
}

// ProjectView is one row of the project list.
type ProjectView struct {
	Project  domain.Project
	Comments []Entry
}

// Board is the client-side view state the pipeline renders into: the
// focused comment thread plus the project list.
type Board struct {
	mu       sync.Mutex
	closed   bool
	focusID  string
	focused  []Entry
	projects map[string]*ProjectView
	order    []string
}

func NewBoard() *Board {
	return &Board{projects: make(map[string]*ProjectView)}
}

// SetProjects replaces the project list, keeping optimistic entries that
// the fresh data does not contain yet. A project missing from comments keeps
// the entries it already shows.
func (b *Board) SetProjects(projects []domain.Project, comments map[string][]domain.Comment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make(map[string]*ProjectView, len(projects))
	order := make([]string, 0, len(projects))
	for _, p := range projects {
		prev, hadPrev := b.projects[p.ID]
		fresh, loaded := comments[p.ID]
		view := &ProjectView{Project: p}
		switch {
		case loaded:
			view.Comments = confirmed(fresh)
			if hadPrev {
				view.Comments = mergePending(view.Comments, prev.Comments)
			}
		case hadPrev:
			view.Comments = slices.Clone(prev.Comments)
		default:
			view.Comments = []Entry{}
		}
		next[p.ID] = view
		order = append(order, p.ID)
	}
	b.projects = next
	b.order = order
}

// Focus opens the comment thread for projectID. Comments of that project
// still being sent stay visible.
func (b *Board) Focus(projectID string, comments []domain.Comment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := confirmed(comments)
	if b.focusID == projectID {
		entries = mergePending(entries, b.focused)
	}
	if v, ok := b.projects[projectID]; ok {
		entries = mergePending(entries, v.Comments)
	}
	b.focusID = projectID
	b.focused = entries
}

// Close tears the view down. Results that arrive afterwards are dropped.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.focusID = ""
	b.focused = nil
	b.projects = map[string]*ProjectView{}
	b.order = nil
}

// Focused returns a copy of the focused thread.
func (b *Board) Focused() (string, []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focusID, slices.Clone(b.focused)
}

// Project returns a copy of one project row.
func (b *Board) Project(id string) (ProjectView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.projects[id]
	if !ok {
		return ProjectView{}, false
	}
	return ProjectView{Project: v.Project, Comments: slices.Clone(v.Comments)}, true
}

// Projects returns the project list in display order.
func (b *Board) Projects() []ProjectView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ProjectView, 0, len(b.order))
	for _, id := range b.order {
		v := b.projects[id]
		out = append(out, ProjectView{Project: v.Project, Comments: slices.Clone(v.Comments)})
	}
	return out
}

// insert appends a pending entry everywhere projectID is shown.
func (b *Board) insert(projectID string, c domain.Comment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	e := Entry{Comment: c, Pending: true}
	if b.focusID == projectID {
		b.focused = append(b.focused, e)
	}
	if v, ok := b.projects[projectID]; ok {
		v.Comments = append(v.Comments, e)
	}
}

// confirm swaps the entry with tempID for the server record. When the
// server record is already shown (a refresh landed first) the temporary
// entry is dropped instead, and when neither is shown the record is added.
func (b *Board) confirm(projectID, tempID string, c domain.Comment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.focusID == projectID {
		b.focused = replaceEntry(b.focused, tempID, c)
	}
	if v, ok := b.projects[projectID]; ok {
		v.Comments = replaceEntry(v.Comments, tempID, c)
	}
}

// remove drops the entry with tempID from both locations.
func (b *Board) remove(projectID, tempID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.focusID == projectID {
		b.focused = deleteEntry(b.focused, tempID)
	}
	if v, ok := b.projects[projectID]; ok {
		v.Comments = deleteEntry(v.Comments, tempID)
	}
}

// setProgress updates a project row and returns the previous project so a
// failed write can restore it.
func (b *Board) setProgress(projectID string, progress int) (domain.Project, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.projects[projectID]
	if b.closed || !ok {
		return domain.Project{}, false
	}
	prev := v.Project
	v.Project.Progress = progress
	if progress >= 100 {
		v.Project.Status = domain.ProjectCompleted
	} else if v.Project.Status == domain.ProjectPending {
		v.Project.Status = domain.ProjectInProgress
	}
	return prev, true
}

// restoreProject puts back a row saved by setProgress, unless the row was
// refreshed in between.
func (b *Board) restoreProject(prev domain.Project, optimistic int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.projects[prev.ID]
	if b.closed || !ok || v.Project.Progress != optimistic {
		return
	}
	v.Project = prev
}

// applyProject stores the server's view of a project row.
func (b *Board) applyProject(p domain.Project) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.projects[p.ID]; ok && !b.closed {
		v.Project = p
	}
}

// setApproval updates every shown comment paired with progressID.
func (b *Board) setApproval(progressID string, status domain.ApprovalStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	apply := func(entries []Entry) {
		for i := range entries {
			if entries[i].Comment.ProgressID == progressID {
				entries[i].Comment.ApprovalStatus = status
			}
		}
	}
	apply(b.focused)
	for _, v := range b.projects {
		apply(v.Comments)
	}
}

func confirmed(comments []domain.Comment) []Entry {
	out := make([]Entry, 0, len(comments))
	for _, c := range comments {
		out = append(out, Entry{Comment: c})
	}
	return out
}

// mergePending appends the pending entries of prev that fresh does not
// already hold, either under the same id or as a server record carrying the
// entry's temporary id as its client id.
func mergePending(fresh, prev []Entry) []Entry {
	for _, e := range prev {
		if !e.Pending || containsID(fresh, e.Comment.ID) || confirmedAs(fresh, e.Comment.ID) {
			continue
		}
		fresh = append(fresh, e)
	}
	return fresh
}

func containsID(entries []Entry, id string) bool {
	return slices.ContainsFunc(entries, func(e Entry) bool { return e.Comment.ID == id })
}

func confirmedAs(entries []Entry, tempID string) bool {
	return slices.ContainsFunc(entries, func(e Entry) bool { return !e.Pending && e.Comment.ClientID == tempID })
}

func replaceEntry(entries []Entry, tempID string, c domain.Comment) []Entry {
	if containsID(entries, c.ID) {
		return deleteEntry(entries, tempID)
	}
	for i := range entries {
		if entries[i].Comment.ID == tempID {
			entries[i] = Entry{Comment: c}
			return entries
		}
	}
	return append(entries, Entry{Comment: c})
}

func deleteEntry(entries []Entry, id string) []Entry {
	return slices.DeleteFunc(entries, func(e Entry) bool { return e.Comment.ID == id })
}
