package domain

import "strings"

// Hosted store paths. Every record lives under one of these roots.
const (
	RootUsers                = "users"
	RootAnnouncements        = "announcements"
	RootAnnouncementReads    = "announcement_reads"
	RootProjects             = "projects"
	RootComments             = "comments"
	RootAnnouncementComments = "announcement_comments"
	RootProjectProgress      = "project_progress"
	RootProgressIndex        = "progress_index"
	RootLocations            = "locations"
	RootPushSubscriptions    = "push_subscriptions"
)

func path(parts ...string) string {
	return strings.Join(parts, "/")
}

func UserPath(uid string) string        { return path(RootUsers, uid) }
func AnnouncementPath(id string) string { return path(RootAnnouncements, id) }
func ReadMarkerPath(announcementID, uid string) string {
	return path(RootAnnouncementReads, announcementID, uid)
}
func ProjectPath(id string) string                { return path(RootProjects, id) }
func ProjectCommentsPath(projectID string) string { return path(RootComments, projectID) }
func AnnouncementCommentsPath(id string) string   { return path(RootAnnouncementComments, id) }
func ProjectProgressPath(projectID string) string { return path(RootProjectProgress, projectID) }
func ProgressIndexPath(progressID string) string  { return path(RootProgressIndex, progressID) }
func LocationPath(uid string) string              { return path(RootLocations, uid) }
func PushSubscriptionsPath(uid string) string     { return path(RootPushSubscriptions, uid) }
