package service

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"classroom/internal/domain"

	"github.com/pkg/errors"
)

// Event is a domain event the fan-out engine turns into notifications. The set
// of implementations is closed; each carries its own payload.
type Event interface {
	Type() domain.NotificationType
	render() rendered
}

type rendered struct {
	title     string
	body      string
	senderID  uint
	relatedID uint
	classID   uint
}

type MessageReceived struct {
	ConversationID uint   `json:"conversation_id"`
	SenderID       uint   `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Preview        string `json:"preview"`
}

func (MessageReceived) Type() domain.NotificationType { return domain.NotificationMessage }

func (e MessageReceived) render() rendered {
	name := e.SenderName
	if name == "" {
		name = "Someone"
	}
	return rendered{
		title:     "New message from " + name,
		body:      truncate(e.Preview, 140),
		senderID:  e.SenderID,
		relatedID: e.ConversationID,
	}
}

type AssignmentCreated struct {
	AssignmentID uint       `json:"assignment_id"`
	ClassID      uint       `json:"class_id"`
	LecturerID   uint       `json:"lecturer_id"`
	Title        string     `json:"title"`
	DueAt        *time.Time `json:"due_at,omitempty"`
}

func (AssignmentCreated) Type() domain.NotificationType { return domain.NotificationAssignment }

func (e AssignmentCreated) render() rendered {
	body := fmt.Sprintf("A new assignment \"%s\" was posted.", e.Title)
	if e.DueAt != nil {
		body += " Due " + e.DueAt.UTC().Format("2006-01-02 15:04 MST") + "."
	}
	return rendered{title: "New assignment", body: body, senderID: e.LecturerID, relatedID: e.AssignmentID, classID: e.ClassID}
}

type ScheduleChanged struct {
	ScheduleID uint      `json:"schedule_id"`
	ClassID    uint      `json:"class_id"`
	SenderID   uint      `json:"sender_id"`
	Title      string    `json:"title"`
	StartsAt   time.Time `json:"starts_at"`
}

func (ScheduleChanged) Type() domain.NotificationType { return domain.NotificationSchedule }

func (e ScheduleChanged) render() rendered {
	return rendered{
		title:     "Schedule update",
		body:      fmt.Sprintf("\"%s\" starts %s.", e.Title, e.StartsAt.UTC().Format("2006-01-02 15:04 MST")),
		senderID:  e.SenderID,
		relatedID: e.ScheduleID,
		classID:   e.ClassID,
	}
}

type AccessRequested struct {
	RequestID   uint   `json:"request_id"`
	ClassID     uint   `json:"class_id"`
	StudentID   uint   `json:"student_id"`
	StudentName string `json:"student_name"`
}

func (AccessRequested) Type() domain.NotificationType { return domain.NotificationAccessRequest }

func (e AccessRequested) render() rendered {
	return rendered{
		title:     "Access request",
		body:      e.StudentName + " asked to join your class.",
		senderID:  e.StudentID,
		relatedID: e.RequestID,
		classID:   e.ClassID,
	}
}

type SubmissionReceived struct {
	SubmissionID    uint   `json:"submission_id"`
	AssignmentID    uint   `json:"assignment_id"`
	ClassID         uint   `json:"class_id"`
	StudentID       uint   `json:"student_id"`
	StudentName     string `json:"student_name"`
	AssignmentTitle string `json:"assignment_title"`
}

func (SubmissionReceived) Type() domain.NotificationType { return domain.NotificationSubmission }

func (e SubmissionReceived) render() rendered {
	return rendered{
		title:     "New submission",
		body:      fmt.Sprintf("%s submitted \"%s\".", e.StudentName, e.AssignmentTitle),
		senderID:  e.StudentID,
		relatedID: e.SubmissionID,
		classID:   e.ClassID,
	}
}

type GradePosted struct {
	SubmissionID    uint    `json:"submission_id"`
	AssignmentID    uint    `json:"assignment_id"`
	ClassID         uint    `json:"class_id"`
	LecturerID      uint    `json:"lecturer_id"`
	AssignmentTitle string  `json:"assignment_title"`
	Score           float64 `json:"score"`
}

func (GradePosted) Type() domain.NotificationType { return domain.NotificationGrade }

func (e GradePosted) render() rendered {
	return rendered{
		title:     "Grade posted",
		body:      fmt.Sprintf("Your work on \"%s\" was graded: %g.", e.AssignmentTitle, e.Score),
		senderID:  e.LecturerID,
		relatedID: e.SubmissionID,
		classID:   e.ClassID,
	}
}

type AnnouncementPosted struct {
	AnnouncementID uint   `json:"announcement_id"`
	ClassID        uint   `json:"class_id"`
	SenderID       uint   `json:"sender_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

func (AnnouncementPosted) Type() domain.NotificationType { return domain.NotificationAnnouncement }

func (e AnnouncementPosted) render() rendered {
	return rendered{
		title:     e.Title,
		body:      truncate(e.Body, 280),
		senderID:  e.SenderID,
		relatedID: e.AnnouncementID,
		classID:   e.ClassID,
	}
}

// DecodeEvent builds the event variant named by kind from its JSON payload.
// It exists for the HTTP boundary only; message events are raised by the
// message service and cannot be decoded here.
func DecodeEvent(kind domain.NotificationType, raw json.RawMessage) (Event, error) {
	switch kind {
	case domain.NotificationMessage:
		return nil, ErrEventNotAllowed
	case domain.NotificationAssignment:
		return decodeAs[AssignmentCreated](kind, raw)
	case domain.NotificationSchedule:
		return decodeAs[ScheduleChanged](kind, raw)
	case domain.NotificationAccessRequest:
		return decodeAs[AccessRequested](kind, raw)
	case domain.NotificationSubmission:
		return decodeAs[SubmissionReceived](kind, raw)
	case domain.NotificationGrade:
		return decodeAs[GradePosted](kind, raw)
	case domain.NotificationAnnouncement:
		return decodeAs[AnnouncementPosted](kind, raw)
	}
	return nil, ErrUnknownEvent
}

func decodeAs[T Event](kind domain.NotificationType, raw json.RawMessage) (Event, error) {
	var ev T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, errors.Wrapf(err, "decode %s event", kind)
		}
	}
	return ev, nil
}

// AuthoredBy returns ev with its author set to userID. It reports false for
// events that record another user's action, such as access requests and
// submissions; only the system may publish those.
func AuthoredBy(ev Event, userID uint) (Event, bool) {
	switch e := ev.(type) {
	case AssignmentCreated:
		e.LecturerID = userID
		return e, true
	case ScheduleChanged:
		e.SenderID = userID
		return e, true
	case GradePosted:
		e.LecturerID = userID
		return e, true
	case AnnouncementPosted:
		e.SenderID = userID
		return e, true
	}
	return ev, false
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
