package domain

const (
	RoleStudent  = "STUDENT"
	RoleLecturer = "LECTURER"
	RoleSystem   = "SYSTEM"
)

// NotificationType is the persisted discriminator of a notification row.
type NotificationType string

const (
	NotificationMessage       NotificationType = "message"
	NotificationAssignment    NotificationType = "assignment"
	NotificationSchedule      NotificationType = "schedule"
	NotificationAccessRequest NotificationType = "access_request"
	NotificationSubmission    NotificationType = "submission"
	NotificationGrade         NotificationType = "grade"
	NotificationAnnouncement  NotificationType = "announcement"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMessage, NotificationAssignment, NotificationSchedule, NotificationAccessRequest,
		NotificationSubmission, NotificationGrade, NotificationAnnouncement:
		return true
	}
	return false
}

// Browser push permission states.
const (
	PushPermissionDefault = "default"
	PushPermissionGranted = "granted"
	PushPermissionDenied  = "denied"
)

func ValidPushPermission(p string) bool {
	return p == PushPermissionDefault || p == PushPermissionGranted || p == PushPermissionDenied
}

const (
	MediaTypeImage    = "image"
	MediaTypeVideo    = "video"
	MediaTypeDocument = "document"
)

// Maximum stored length of a conversation's last-message snapshot.
const SnapshotMaxRunes = 120
