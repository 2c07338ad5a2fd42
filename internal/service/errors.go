package service

import "errors"

var (
	ErrInvalidParticipant    = errors.New("invalid participant")
	ErrSelfConversation      = errors.New("cannot start a conversation with yourself")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrNotParticipant        = errors.New("not a participant of this conversation")
	ErrEmptyMessage          = errors.New("message has no content or attachment")
	ErrMessageNotFound       = errors.New("message not found")
	ErrNotMessageSender      = errors.New("only the sender can delete this message")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrUnknownEvent          = errors.New("unknown notification event")
	ErrEventNotAllowed       = errors.New("event cannot be published by this caller")
	ErrInvalidPushPermission = errors.New("invalid push permission")
	ErrUserNotFound          = errors.New("user not found")
)
