package server

import (
	"net/http"
	"strconv"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/services/shim/internal/app"
)

type announcementRequest struct {
	app.AnnouncementInput
	Action         string `json:"action"`
	AnnouncementID string `json:"announcement_id"`
}

type markReadRequest struct {
	AnnouncementID string `json:"announcement_id"`
}

type reviewRequest struct {
	Action         string `json:"action"`
	ProgressID     string `json:"progress_id"`
	ApprovalStatus string `json:"approval_status"`
}

type progressRequest struct {
	Action             string           `json:"action"`
	ProjectID          string           `json:"project_id"`
	ProgressPercentage int              `json:"progress_percentage"`
	ProgressStatus     string           `json:"progress_status"`
	Note               string           `json:"note"`
	Location           *domain.GeoPoint `json:"location"`
	ProgressID         string           `json:"progress_id"`
	ApprovalStatus     string           `json:"approval_status"`
	ClientID           string           `json:"client_id"`
}

type commentRequest struct {
	ProjectID      string `json:"project_id"`
	AnnouncementID string `json:"announcement_id"`
	Text           string `json:"text"`
	ClientID       string `json:"client_id"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"users": users, "count": len(users)})
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.ListAnnouncements(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"announcements": list})
	case http.MethodPost:
		var req announcementRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if strings.EqualFold(req.Action, "pin") {
			ann, err := s.app.TogglePin(r.Context(), user, req.AnnouncementID)
			if err != nil {
				s.adminAudit(r, user, err)
				s.writeAppError(w, r, err)
				return
			}
			success(w, map[string]any{"announcement": ann})
			return
		}
		ann, err := s.app.CreateAnnouncement(r.Context(), user, req.AnnouncementInput)
		if err != nil {
			s.adminAudit(r, user, err)
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"announcement": ann, "message": "Announcement created"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.MarkRead(r.Context(), user, req.AnnouncementID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"message": "Marked as read"})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.ListProjects(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"projects": list})
	case http.MethodPost:
		var req app.ProjectInput
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		p, err := s.app.CreateProject(r.Context(), user, req)
		if err != nil {
			s.adminAudit(r, user, err)
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"project": p, "message": "Project created"})
	case http.MethodPut:
		fields := map[string]any{}
		if err := decodeJSON(r, &fields); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		id, _ := fields["id"].(string)
		if id == "" {
			id = r.URL.Query().Get("id")
		}
		p, err := s.app.UpdateProject(r.Context(), user, id, fields)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"project": p, "message": "Project updated"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		target := app.CommentTarget{ProjectID: q.Get("project_id"), AnnouncementID: q.Get("announcement_id")}
		list, err := s.app.ListComments(r.Context(), user, target)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"comments": list})
	case http.MethodPost:
		var req commentRequest
		var files []app.Upload
		if isMultipart(r) {
			if err := s.parseMultipart(w, r); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			req = commentRequest{
				ProjectID:      r.FormValue("project_id"),
				AnnouncementID: r.FormValue("announcement_id"),
				Text:           r.FormValue("text"),
				ClientID:       r.FormValue("client_id"),
			}
			uploads, closeAll, err := formUploads(r, "attachments")
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			defer closeAll()
			files = uploads
		} else if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		target := app.CommentTarget{ProjectID: req.ProjectID, AnnouncementID: req.AnnouncementID}
		c, err := s.app.CreateComment(r.Context(), user, target, app.CommentInput{Text: req.Text, ClientID: req.ClientID, Files: files})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"comment": c})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.ListProgress(r.Context(), user, r.URL.Query().Get("project_id"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"progress": list})
	case http.MethodPost:
		if isMultipart(r) {
			s.submitProgressForm(w, r, user)
			return
		}
		var req progressRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		switch req.Action {
		case "review_progress":
			s.reviewProgress(w, r, user, reviewRequest{Action: req.Action, ProgressID: req.ProgressID, ApprovalStatus: req.ApprovalStatus})
		case "update_progress":
			s.submitProgress(w, r, user, app.ProgressInput{
				ProjectID:  req.ProjectID,
				Percentage: req.ProgressPercentage,
				Status:     domain.ProjectStatus(req.ProgressStatus),
				Note:       req.Note,
				ClientID:   req.ClientID,
				Location:   req.Location,
			})
		default:
			s.writeAppError(w, r, domain.Validation("action must be update_progress or review_progress"))
		}
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) submitProgressForm(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if action := r.FormValue("action"); action != "update_progress" {
		s.writeAppError(w, r, domain.Validation("action must be update_progress"))
		return
	}
	pct, err := strconv.Atoi(strings.TrimSpace(r.FormValue("progress_percentage")))
	if err != nil {
		s.writeAppError(w, r, domain.Validation("progress_percentage must be a whole number"))
		return
	}
	in := app.ProgressInput{
		ProjectID:  r.FormValue("project_id"),
		Percentage: pct,
		Status:     domain.ProjectStatus(r.FormValue("progress_status")),
		Note:       r.FormValue("note"),
		ClientID:   r.FormValue("client_id"),
	}
	if lat := strings.TrimSpace(r.FormValue("latitude")); lat != "" {
		loc, err := formLocation(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		in.Location = loc
	}
	uploads, closeAll, err := formUploads(r, "evidence_photo")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer closeAll()
	if len(uploads) > 0 {
		in.EvidencePhoto = &uploads[0]
	}
	s.submitProgress(w, r, user, in)
}

func (s *Server) submitProgress(w http.ResponseWriter, r *http.Request, user domain.Profile, in app.ProgressInput) {
	res, err := s.app.SubmitProgress(r.Context(), user, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{
		"progress_id": res.ProgressID,
		"record":      res.Record,
		"comment":     res.Comment,
		"project":     res.Project,
		"message":     "Progress submitted",
	})
}

func (s *Server) reviewProgress(w http.ResponseWriter, r *http.Request, user domain.Profile, req reviewRequest) {
	err := s.app.ReviewProgress(r.Context(), user, app.ReviewInput{
		ProgressID: req.ProgressID,
		Status:     domain.ApprovalStatus(req.ApprovalStatus),
	})
	if err != nil {
		s.adminAudit(r, user, err)
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"message": "Progress reviewed"})
}

func formLocation(r *http.Request) (*domain.GeoPoint, error) {
	parse := func(field string) (float64, error) {
		v := strings.TrimSpace(r.FormValue(field))
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, domain.Validation(field + " must be a number")
		}
		return n, nil
	}
	lat, err := parse("latitude")
	if err != nil {
		return nil, err
	}
	lng, err := parse("longitude")
	if err != nil {
		return nil, err
	}
	acc, err := parse("accuracy")
	if err != nil {
		return nil, err
	}
	return &domain.GeoPoint{Lat: lat, Lng: lng, Accuracy: acc, Name: r.FormValue("location_name")}, nil
}

// adminAudit records refused admin actions.
func (s *Server) adminAudit(r *http.Request, user domain.Profile, err error) {
	if domain.IsKind(err, domain.KindForbidden) {
		s.audit(r, "authz.admin", "fail", "user_id", user.ID)
	}
}
