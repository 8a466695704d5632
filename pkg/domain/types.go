package domain

import "time"

type AccountType string

const (
	AccountUser  AccountType = "user"
	AccountAdmin AccountType = "admin"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "pending"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Profile is the canonical application user. ID is the identity subject id.
type Profile struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
	AccountType  AccountType `json:"account_type"`
	ProfileImage string      `json:"profile_image"`
	Name         string      `json:"name"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (p Profile) IsAdmin() bool {
	return p.AccountType == AccountAdmin
}

// Announcement is global except for IsRead/ReadAt, which are filled in for
// the viewing user on every read.
type Announcement struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	Priority    Priority   `json:"priority"`
	Author      string     `json:"author"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedAtTS int64      `json:"created_at_ts"`
	IsActive    bool       `json:"is_active"`
	IsPinned    bool       `json:"is_pinned"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// ReadMarker is the (announcement, user) read relation.
type ReadMarker struct {
	AnnouncementID string    `json:"announcement_id"`
	UserID         string    `json:"user_id"`
	Read           bool      `json:"read"`
	ReadAt         time.Time `json:"read_at"`
}

type Project struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        ProjectStatus `json:"status"`
	Progress      int           `json:"progress"`
	Deadline      string        `json:"deadline"`
	Manager       string        `json:"manager"`
	Budget        float64       `json:"budget"`
	AssignedUsers []string      `json:"assignedUsers"`
	StartDate     string        `json:"startDate"`
	CreatedAt     time.Time     `json:"created_at"`
}

// IsAssigned reports whether userID is on the project.
func (p Project) IsAssigned(userID string) bool {
	for _, id := range p.AssignedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// IsCompleted treats progress 100 as completed even before the status
// transition has been persisted.
func (p Project) IsCompleted() bool {
	return p.Status == ProjectCompleted || p.Progress >= 100
}

// StatusForProgress derives the project status a progress value implies.
func StatusForProgress(pct int) ProjectStatus {
	switch {
	case pct >= 100:
		return ProjectCompleted
	case pct > 0:
		return ProjectInProgress
	default:
		return ProjectPending
	}
}

type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type GeoPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
	Name     string  `json:"name"`
}

// Comment is a thread entry on a project or announcement. Progress comments
// carry the progress fields and a non-empty ProgressID.
type Comment struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	AuthorID    string       `json:"author_id"`
	AuthorEmail string       `json:"author_email"`
	AccountType AccountType  `json:"account_type"`

	ProgressPercentage *int           `json:"progress_percentage,omitempty"`
	ProgressStatus     ProjectStatus  `json:"progress_status,omitempty"`
	EvidencePhoto      string         `json:"evidence_photo,omitempty"`
	Location           *GeoPoint      `json:"location,omitempty"`
	ApprovalStatus     ApprovalStatus `json:"approval_status,omitempty"`
	ProgressID         string         `json:"progress_id,omitempty"`

	// ClientID is the provisional id the submitting client rendered the
	// comment under before the write resolved.
	ClientID string `json:"client_id,omitempty"`
}

func (c Comment) IsProgress() bool {
	return c.ProgressID != ""
}

// ProgressRecord is the status-data copy of a progress submission.
type ProgressRecord struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	UserID             string         `json:"user_id"`
	UserEmail          string         `json:"user_email"`
	ProgressPercentage int            `json:"progress_percentage"`
	ProgressStatus     ProjectStatus  `json:"progress_status"`
	Note               string         `json:"note"`
	EvidencePhoto      string         `json:"evidence_photo,omitempty"`
	Location           *GeoPoint      `json:"location,omitempty"`
	ApprovalStatus     ApprovalStatus `json:"approval_status"`
	ReviewedBy         string         `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ProgressIndexEntry locates a progress record and its paired comment.
type ProgressIndexEntry struct {
	ProjectID   string `json:"project_id"`
	ProgressKey string `json:"progress_key"`
	CommentID   string `json:"comment_id"`
}

// LocationReport is the single current location row per user.
type LocationReport struct {
	UserID       string    `json:"user_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Accuracy     float64   `json:"accuracy"`
	LocationName string    `json:"location_name"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type PushSubscription struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	UserAgent string           `json:"user_agent,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type PushKind string

const (
	PushAnnouncement     PushKind = "announcement"
	PushProjectCompleted PushKind = "project_completed"
)

// PushJob is one notification fan-out request. Empty UserIDs means everyone.
type PushJob struct {
	Kind    PushKind `json:"kind"`
	RefID   string   `json:"ref_id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url,omitempty"`
	UserIDs []string `json:"user_ids,omitempty"`
}
