package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldsync/internal/alerts"
	"fieldsync/internal/ratelimit"
	"fieldsync/internal/util"
	"fieldsync/pkg/domain"
	"fieldsync/services/shim/internal/app"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Redis                      redis.UniversalClient
	Alerts                     *alerts.Alerter
	TrustedProxies             *util.TrustedProxies
	CORSAllowedOrigins         []string
	SignupRateLimitPerMinute   int
	LoginRateLimitPerMinute    int
	PasswordRateLimitPerMinute int
	MaxUploadBytes             int64
	VAPIDPublicKey             string
	// FilesDir is served under /files/ when blobs live on local disk.
	FilesDir string
}

// Server exposes the legacy *.php endpoints.
type Server struct {
	app             *app.App
	alerts          *alerts.Alerter
	trusted         *util.TrustedProxies
	mux             *http.ServeMux
	cors            *cors.Cors
	maxUploadBytes  int64
	vapidPublicKey  string
	signupLimiter   *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	passwordLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	passwordLimit := cfg.PasswordRateLimitPerMinute
	if passwordLimit <= 0 {
		passwordLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "fieldsync:shim:ratelimit", name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	passwordLimiter, err := newLimiter("password", passwordLimit)
	if err != nil {
		return nil, err
	}
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		app:     cfg.App,
		alerts:  cfg.Alerts,
		trusted: cfg.TrustedProxies,
		mux:     http.NewServeMux(),
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
			MaxAge:         600,
		}),
		maxUploadBytes:  normalizeMaxBytes(cfg.MaxUploadBytes),
		vapidPublicKey:  strings.TrimSpace(cfg.VAPIDPublicKey),
		signupLimiter:   signupLimiter,
		loginLimiter:    loginLimiter,
		passwordLimiter: passwordLimiter,
	}
	s.routes(cfg.FilesDir)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	h := util.WithSecurityHeaders(s.cors.Handler(s.mux))
	h = util.WithRequestLog("shim", h)
	h = util.WithRecover(h, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusInternalServerError, "Internal server error", domain.KindUpstream, nil)
	})
	return util.WithRequestID(h)
}

func (s *Server) routes(filesDir string) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if strings.TrimSpace(filesDir) != "" {
		s.mux.Handle("/files/", http.StripPrefix("/files/", http.FileServer(http.Dir(filesDir))))
	}

	legacy := map[string]http.Handler{
		// auth
		"login.php":           http.HandlerFunc(s.handleLogin),
		"register.php":        http.HandlerFunc(s.handleRegister),
		"google_login.php":    http.HandlerFunc(s.handleGoogleLogin),
		"forgot_password.php": http.HandlerFunc(s.handleForgotPassword),
		"logout.php":          http.HandlerFunc(s.handleLogout),

		// records
		"users.php":            s.authenticated(s.handleUsers),
		"announcements.php":    s.authenticated(s.handleAnnouncements),
		"mark_read.php":        s.authenticated(s.handleMarkRead),
		"projects.php":         s.authenticated(s.handleProjects),
		"comments.php":         s.authenticated(s.handleComments),
		"project_progress.php": s.authenticated(s.handleProgress),

		// account
		"profile.php":        s.authenticated(s.handleProfileImage),
		"update_profile.php": s.authenticated(s.handleUpdateProfile),
		"location.php":       s.authenticated(s.handleLocation),

		// push
		"list_subscriptions.php":  s.authenticated(s.handleListSubscriptions),
		"save_subscription.php":   s.authenticated(s.handleSaveSubscription),
		"remove_subscription.php": s.authenticated(s.handleRemoveSubscription),
		"push_vapid_public.php":   http.HandlerFunc(s.handleVAPIDPublicKey),
	}
	for name, h := range legacy {
		s.mux.Handle("/"+name, h)
		s.mux.Handle("/api/"+name, h)
	}
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found", domain.KindNotFound, nil)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Profile)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", domain.KindUnauthorized, nil)
			return
		}
		user, err := s.app.CurrentUser(r.Context(), token)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if user == nil {
			s.audit(r, "authz.session", "fail", "reason", "invalid_session")
			writeError(w, http.StatusUnauthorized, "Unauthorized", domain.KindUnauthorized, nil)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), *user)
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", domain.KindValidation, nil)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// success writes {status:"success", ...payload}.
func success(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, kind domain.ErrorKind, completed []string) {
	body := map[string]any{"status": "error", "message": msg}
	if kind != "" {
		body["kind"] = string(kind)
	}
	if len(completed) > 0 {
		body["completed"] = completed
	}
	writeJSON(w, status, body)
}

// writeAppError maps a classified error to its HTTP status. Unclassified
// errors are treated as upstream failures.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	var completed []string
	var derr *domain.Error
	if errors.As(err, &derr) {
		completed = derr.Completed
	}
	if kind == domain.KindUpstream {
		util.LoggerFromContext(r.Context()).Error("upstream_failure", "path", r.URL.Path, "err", err)
		s.alerts.Escalate(r.Context(), alerts.Alert{Event: alerts.EventUpstreamFailure, Subject: r.URL.Path, Err: err})
	}
	status := statusFor(kind)
	writeError(w, status, domain.PublicMessage(err), kind, completed)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Validation("invalid JSON body")
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Validation("upload too large")
		}
		return domain.Validation("invalid form data")
	}
	return nil
}

// formUploads opens every file posted under field. The caller closes them.
func formUploads(r *http.Request, field string) ([]app.Upload, func(), error) {
	closeAll := func() {}
	if r.MultipartForm == nil {
		return nil, closeAll, nil
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		headers = r.MultipartForm.File[field+"[]"]
	}
	var closers []io.Closer
	closeAll = func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	out := make([]app.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, domain.Validation("unreadable upload")
		}
		closers = append(closers, f)
		out = append(out, app.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return out, closeAll, nil
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 20 << 20
	}
	return value
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	s.alerts.Escalate(r.Context(), alerts.Alert{Event: event, Outcome: outcome, Subject: ip})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg, "", nil)
	return false
}
