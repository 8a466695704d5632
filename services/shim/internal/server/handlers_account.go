package server

import (
	"net/http"

	"fieldsync/pkg/domain"
	"fieldsync/services/shim/internal/app"
)

type profileImageRequest struct {
	ProfileImage string `json:"profile_image"`
}

type removeSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	ID       string `json:"id"`
}

func (s *Server) handleProfileImage(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var in app.ProfileImageInput
	if isMultipart(r) {
		if err := s.parseMultipart(w, r); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		uploads, closeAll, err := formUploads(r, "profile_image")
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		defer closeAll()
		if len(uploads) > 0 {
			in.File = &uploads[0]
		} else {
			in.Image = r.FormValue("profile_image")
		}
	} else {
		var req profileImageRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		in.Image = req.ProfileImage
	}
	p, err := s.app.SetProfileImage(r.Context(), user, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"user": p, "profile_image": p.ProfileImage})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	fields := map[string]any{}
	if err := decodeJSON(r, &fields); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	p, err := s.app.UpdateProfile(r.Context(), user, fields)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"user": p, "message": "Profile updated"})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.ListLocations(r.Context(), user, r.URL.Query().Get("user_id"))
		if err != nil {
			s.adminAudit(r, user, err)
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"locations": list})
	case http.MethodPost:
		var req app.LocationInput
		if err := decodeJSON(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		loc, err := s.app.ReportLocation(r.Context(), user, req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		success(w, map[string]any{"location": loc})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	subs, err := s.app.ListSubscriptions(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"subscriptions": subs})
}

func (s *Server) handleSaveSubscription(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.SubscriptionInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	sub, err := s.app.SaveSubscription(r.Context(), user, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"subscription": sub})
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request, user domain.Profile) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	var req removeSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.RemoveSubscription(r.Context(), user, req.Endpoint, req.ID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	success(w, map[string]any{"message": "Subscription removed"})
}

func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.vapidPublicKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are not configured", domain.KindNotFound, nil)
		return
	}
	success(w, map[string]any{"publicKey": s.vapidPublicKey})
}
