package app

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/navigation"
	"fieldsync/pkg/submit"
)

const helpText = `commands:
  projects                          list projects
  open <project>                    open the comment thread
  back                              close the top screen
  swipe <dx>                        edge swipe; pops past the threshold
  comment <project> <text>          post a comment
  attach <project> <file> [text]    post a comment with a file
  progress <project> <pct> [note]   submit progress at the current location
  review <progress> <status>        APPROVED, REJECTED or PENDING (admin)
  announcements                     list announcements
  read <announcement>               mark an announcement read
  notifications                     open notifications and clear badges
  badges                            show badge counters
  where                             show the current location
  refresh                           take a fresh location fix
  logout                            sign out`

// Exec runs one command line and returns what to print.
func (a *App) Exec(ctx context.Context, line string) (string, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "":
		return "", nil
	case "help":
		return helpText, nil
	case "back":
		return a.back(), nil
	case "swipe":
		dx, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return "", fmt.Errorf("swipe: distance must be a number")
		}
		a.swipe.Begin(0, 0)
		a.swipe.Move(dx, 0)
		if a.swipe.End() {
			return "back to " + a.screen(), nil
		}
		return "swipe cancelled", nil
	}

	s := a.current()
	if s == nil {
		return "", ErrSignedOut
	}
	switch cmd {
	case "projects":
		return a.listProjects(s), nil
	case "open":
		return a.open(ctx, s, rest)
	case "comment":
		id, text, _ := strings.Cut(rest, " ")
		c, err := s.pipeline.SubmitComment(ctx, id, text, nil)
		if err != nil {
			return "", err
		}
		if c.ID == "" {
			return "nothing to send", nil
		}
		return "comment " + c.ID + " saved", nil
	case "attach":
		return a.attach(ctx, s, rest)
	case "progress":
		return a.progress(ctx, s, rest)
	case "review":
		id, status, _ := strings.Cut(rest, " ")
		if err := s.pipeline.ReviewProgress(ctx, id, domain.ApprovalStatus(strings.ToUpper(strings.TrimSpace(status)))); err != nil {
			return "", err
		}
		return "progress " + id + " reviewed", nil
	case "announcements":
		return a.listAnnouncements(), nil
	case "read":
		if rest == "" {
			return "", domain.Validation("announcement id required")
		}
		if err := a.client.MarkRead(ctx, rest); err != nil {
			return "", err
		}
		if err := a.engine.MarkRead(ctx, rest, time.Now()); err != nil {
			return "", err
		}
		return "marked " + rest + " read", nil
	case "notifications":
		if err := a.engine.OpenNotifications(ctx); err != nil {
			return "", err
		}
		a.stack.Push(navigation.ScreenNotifications, nil)
		return a.badges(), nil
	case "badges":
		return a.badges(), nil
	case "where":
		point, ok := s.tracker.Current()
		if !ok {
			return "no fix yet", nil
		}
		return formatPoint(point), nil
	case "refresh":
		point, err := s.tracker.Refresh(ctx)
		if err != nil {
			return "", err
		}
		return formatPoint(point), nil
	case "logout":
		if err := a.SignOut(ctx); err != nil {
			return "signed out (server: " + err.Error() + ")", nil
		}
		return "signed out", nil
	default:
		return "", fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (a *App) back() string {
	if _, ok := a.stack.Pop(); !ok {
		return "already at the dashboard"
	}
	return "back to " + a.screen()
}

func (a *App) screen() string {
	if f, ok := a.stack.Current(); ok {
		return f.Screen
	}
	return "dashboard"
}

func (a *App) listProjects(s *session) string {
	views := s.board.Projects()
	if len(views) == 0 {
		return "no projects"
	}
	var b strings.Builder
	for _, v := range views {
		pending := 0
		for _, e := range v.Comments {
			if e.Pending {
				pending++
			}
		}
		fmt.Fprintf(&b, "%s  %-30s %3d%%  %s", v.Project.ID, v.Project.Title, v.Project.Progress, v.Project.Status)
		if pending > 0 {
			fmt.Fprintf(&b, "  (%d sending)", pending)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) open(ctx context.Context, s *session, projectID string) (string, error) {
	if projectID == "" {
		return "", domain.Validation("project id required")
	}
	comments, err := a.client.Comments(ctx, projectID)
	if err != nil {
		return "", err
	}
	s.board.Focus(projectID, comments)
	a.stack.Push(navigation.ScreenComments, projectID)
	unread, err := a.engine.UnreadComments(ctx, string(s.user.AccountType), s.user.ID, comments)
	if err == nil && unread > 0 {
		ids := make([]string, 0, len(comments))
		for _, c := range comments {
			ids = append(ids, c.ID)
		}
		_ = a.engine.MarkCommentsRead(ctx, string(s.user.AccountType), ids...)
	}
	_, entries := s.board.Focused()
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d comments (%d unread)\n", projectID, len(entries), unread)
	for _, e := range entries {
		c := e.Comment
		line := c.Text
		if c.ProgressPercentage != nil {
			line = fmt.Sprintf("[%d%% %s] %s", *c.ProgressPercentage, c.ApprovalStatus, c.Text)
		}
		fmt.Fprintf(&b, "  %s %s: %s\n", c.CreatedAt.Format(time.DateTime), c.AuthorEmail, line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *App) attach(ctx context.Context, s *session, rest string) (string, error) {
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 2 {
		return "", domain.Validation("usage: attach <project> <file> [text]")
	}
	data, err := os.ReadFile(fields[1])
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	file := submit.File{
		Name: filepath.Base(fields[1]),
		Type: mime.TypeByExtension(filepath.Ext(fields[1])),
		Data: data,
	}
	text := ""
	if len(fields) == 3 {
		text = fields[2]
	}
	c, err := s.pipeline.SubmitComment(ctx, fields[0], text, []submit.File{file})
	if err != nil {
		return "", err
	}
	return "comment " + c.ID + " saved", nil
}

func (a *App) progress(ctx context.Context, s *session, rest string) (string, error) {
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 2 {
		return "", domain.Validation("usage: progress <project> <pct> [note]")
	}
	pct, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", domain.Validation("progress must be a whole number")
	}
	in := submit.ProgressInput{Percentage: pct}
	if len(fields) == 3 {
		in.Note = fields[2]
	}
	if point, ok := s.tracker.Current(); ok {
		in.Location = &point
	}
	res, err := s.pipeline.SubmitProgress(ctx, fields[0], in)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Kind == domain.KindPartialWrite {
			return "", fmt.Errorf("progress partly saved (%s): %w", strings.Join(derr.Completed, ", "), err)
		}
		return "", err
	}
	return fmt.Sprintf("progress %s saved, project at %d%%", res.ProgressID, res.Project.Progress), nil
}

func (a *App) listAnnouncements() string {
	list := a.announcements()
	if len(list) == 0 {
		return "no announcements"
	}
	var b strings.Builder
	for _, ann := range list {
		marks := ""
		if ann.IsPinned {
			marks += "[pinned]"
		}
		if a.isNew(ann.ID) {
			marks += "[new]"
		}
		if !ann.IsRead {
			marks += "*"
		}
		fmt.Fprintf(&b, "%s %s %s\n", ann.ID, marks, ann.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) badges() string {
	ann, tasks := a.engine.Badges()
	return fmt.Sprintf("announcements: %d  completed tasks: %d", ann, tasks)
}

func formatPoint(p domain.GeoPoint) string {
	return fmt.Sprintf("%.6f, %.6f (±%.0fm) %s", p.Lat, p.Lng, p.Accuracy, p.Name)
}
