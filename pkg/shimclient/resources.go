package shimclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/submit"
)

func (c *Client) Users(ctx context.Context) ([]domain.Profile, error) {
	var resp struct {
		Users []domain.Profile `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "users.php", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Announcements returns the list with the caller's read state, pinned first.
func (c *Client) Announcements(ctx context.Context) ([]domain.Announcement, error) {
	var resp struct {
		Announcements []domain.Announcement `json:"announcements"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "announcements.php", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Announcements, nil
}

// NewAnnouncement is the admin create form.
type NewAnnouncement struct {
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Type     string          `json:"type,omitempty"`
	Priority domain.Priority `json:"priority,omitempty"`
	IsPinned bool            `json:"is_pinned"`
}

func (c *Client) CreateAnnouncement(ctx context.Context, in NewAnnouncement) (domain.Announcement, error) {
	var resp struct {
		Announcement domain.Announcement `json:"announcement"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "announcements.php", nil, in, &resp); err != nil {
		return domain.Announcement{}, err
	}
	return resp.Announcement, nil
}

// TogglePin flips the pinned flag of an announcement.
func (c *Client) TogglePin(ctx context.Context, announcementID string) (domain.Announcement, error) {
	var resp struct {
		Announcement domain.Announcement `json:"announcement"`
	}
	payload := map[string]string{"action": "pin", "announcement_id": announcementID}
	if err := c.doJSON(ctx, http.MethodPost, "announcements.php", nil, payload, &resp); err != nil {
		return domain.Announcement{}, err
	}
	return resp.Announcement, nil
}

func (c *Client) MarkRead(ctx context.Context, announcementID string) error {
	payload := map[string]string{"announcement_id": announcementID}
	return c.doJSON(ctx, http.MethodPost, "mark_read.php", nil, payload, nil)
}

// Projects returns every project for admins, assigned projects otherwise.
func (c *Client) Projects(ctx context.Context) ([]domain.Project, error) {
	var resp struct {
		Projects []domain.Project `json:"projects"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "projects.php", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

func (c *Client) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	var resp struct {
		Project domain.Project `json:"project"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "projects.php", nil, p, &resp); err != nil {
		return domain.Project{}, err
	}
	return resp.Project, nil
}

// UpdateProject patches the named fields of project id.
func (c *Client) UpdateProject(ctx context.Context, id string, fields map[string]any) (domain.Project, error) {
	payload := map[string]any{"id": id}
	for k, v := range fields {
		payload[k] = v
	}
	var resp struct {
		Project domain.Project `json:"project"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "projects.php", nil, payload, &resp); err != nil {
		return domain.Project{}, err
	}
	return resp.Project, nil
}

func (c *Client) Comments(ctx context.Context, projectID string) ([]domain.Comment, error) {
	return c.comments(ctx, url.Values{"project_id": {projectID}})
}

func (c *Client) AnnouncementComments(ctx context.Context, announcementID string) ([]domain.Comment, error) {
	return c.comments(ctx, url.Values{"announcement_id": {announcementID}})
}

func (c *Client) comments(ctx context.Context, q url.Values) ([]domain.Comment, error) {
	var resp struct {
		Comments []domain.Comment `json:"comments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "comments.php", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Comments, nil
}

// CreateComment posts a project comment as multipart so attachments travel
// with the text. clientID is stored on the comment so a refresh can match it
// to the provisional entry.
func (c *Client) CreateComment(ctx context.Context, projectID, clientID, text string, files []submit.File) (domain.Comment, error) {
	return c.postComment(ctx, "project_id", projectID, clientID, text, files)
}

func (c *Client) CreateAnnouncementComment(ctx context.Context, announcementID, clientID, text string, files []submit.File) (domain.Comment, error) {
	return c.postComment(ctx, "announcement_id", announcementID, clientID, text, files)
}

func (c *Client) postComment(ctx context.Context, field, id, clientID, text string, files []submit.File) (domain.Comment, error) {
	fields := map[string]string{field: id, "text": text}
	if clientID != "" {
		fields["client_id"] = clientID
	}
	body, contentType, err := multipartBody(fields, "attachments", files)
	if err != nil {
		return domain.Comment{}, err
	}
	var resp struct {
		Comment domain.Comment `json:"comment"`
	}
	if err := c.do(ctx, http.MethodPost, "comments.php", nil, body, contentType, &resp); err != nil {
		return domain.Comment{}, err
	}
	return resp.Comment, nil
}

func (c *Client) ProgressHistory(ctx context.Context, projectID string) ([]domain.ProgressRecord, error) {
	var resp struct {
		Progress []domain.ProgressRecord `json:"progress"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "project_progress.php", url.Values{"project_id": {projectID}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Progress, nil
}

// SubmitProgress sends action=update_progress with an optional evidence
// photo.
func (c *Client) SubmitProgress(ctx context.Context, projectID string, in submit.ProgressInput) (submit.ProgressResult, error) {
	fields := map[string]string{
		"action":              "update_progress",
		"project_id":          projectID,
		"progress_percentage": strconv.Itoa(in.Percentage),
		"progress_status":     string(in.Status),
		"note":                in.Note,
	}
	if in.ClientID != "" {
		fields["client_id"] = in.ClientID
	}
	if loc := in.Location; loc != nil {
		fields["latitude"] = strconv.FormatFloat(loc.Lat, 'f', -1, 64)
		fields["longitude"] = strconv.FormatFloat(loc.Lng, 'f', -1, 64)
		fields["accuracy"] = strconv.FormatFloat(loc.Accuracy, 'f', -1, 64)
		fields["location_name"] = loc.Name
	}
	var files []submit.File
	if in.EvidencePhoto != nil {
		files = append(files, *in.EvidencePhoto)
	}
	body, contentType, err := multipartBody(fields, "evidence_photo", files)
	if err != nil {
		return submit.ProgressResult{}, err
	}
	var resp struct {
		ProgressID string         `json:"progress_id"`
		Comment    domain.Comment `json:"comment"`
		Project    domain.Project `json:"project"`
	}
	if err := c.do(ctx, http.MethodPost, "project_progress.php", nil, body, contentType, &resp); err != nil {
		return submit.ProgressResult{}, err
	}
	return submit.ProgressResult{ProgressID: resp.ProgressID, Comment: resp.Comment, Project: resp.Project}, nil
}

func (c *Client) ReviewProgress(ctx context.Context, progressID string, status domain.ApprovalStatus) error {
	payload := map[string]string{"action": "review_progress", "progress_id": progressID, "approval_status": string(status)}
	return c.doJSON(ctx, http.MethodPost, "project_progress.php", nil, payload, nil)
}

// ReportLocation stores the caller's current location.
func (c *Client) ReportLocation(ctx context.Context, r domain.LocationReport) error {
	payload := map[string]any{
		"latitude":      r.Latitude,
		"longitude":     r.Longitude,
		"accuracy":      r.Accuracy,
		"location_name": r.LocationName,
	}
	return c.doJSON(ctx, http.MethodPost, "location.php", nil, payload, nil)
}

// Locations returns one user's location, or everyone's for userID "all".
func (c *Client) Locations(ctx context.Context, userID string) ([]domain.LocationReport, error) {
	var resp struct {
		Locations []domain.LocationReport `json:"locations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "location.php", url.Values{"user_id": {userID}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

type profileResponse struct {
	User         domain.Profile `json:"user"`
	ProfileImage string         `json:"profile_image"`
}

// UploadProfileImage uploads image bytes and returns the stored URL.
func (c *Client) UploadProfileImage(ctx context.Context, file submit.File) (domain.Profile, error) {
	body, contentType, err := multipartBody(nil, "profile_image", []submit.File{file})
	if err != nil {
		return domain.Profile{}, err
	}
	var resp profileResponse
	if err := c.do(ctx, http.MethodPost, "profile.php", nil, body, contentType, &resp); err != nil {
		return domain.Profile{}, err
	}
	return resp.User, nil
}

// SetProfileImage accepts a data URL or an existing http(s) URL.
func (c *Client) SetProfileImage(ctx context.Context, image string) (domain.Profile, error) {
	var resp profileResponse
	if err := c.doJSON(ctx, http.MethodPost, "profile.php", nil, map[string]string{"profile_image": image}, &resp); err != nil {
		return domain.Profile{}, err
	}
	return resp.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, fields map[string]string) (domain.Profile, error) {
	var resp profileResponse
	if err := c.doJSON(ctx, http.MethodPost, "update_profile.php", nil, fields, &resp); err != nil {
		return domain.Profile{}, err
	}
	return resp.User, nil
}

func (c *Client) Subscriptions(ctx context.Context) ([]domain.PushSubscription, error) {
	var resp struct {
		Subscriptions []domain.PushSubscription `json:"subscriptions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "list_subscriptions.php", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

func (c *Client) SaveSubscription(ctx context.Context, endpoint string, keys domain.SubscriptionKeys, userAgent string) (domain.PushSubscription, error) {
	payload := map[string]any{"endpoint": endpoint, "keys": keys, "user_agent": userAgent}
	var resp struct {
		Subscription domain.PushSubscription `json:"subscription"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "save_subscription.php", nil, payload, &resp); err != nil {
		return domain.PushSubscription{}, err
	}
	return resp.Subscription, nil
}

func (c *Client) RemoveSubscription(ctx context.Context, endpoint string) error {
	return c.doJSON(ctx, http.MethodPost, "remove_subscription.php", nil, map[string]string{"endpoint": endpoint}, nil)
}

func (c *Client) VAPIDPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "push_vapid_public.php", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(fields map[string]string, fileField string, files []submit.File) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, quoteEscaper.Replace(fileField), quoteEscaper.Replace(f.Name)))
		ct := f.Type
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
