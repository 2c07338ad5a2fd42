package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"classroom/config"
	"classroom/internal/auth"
	"classroom/internal/broadcast"
	"classroom/internal/database"
	"classroom/internal/domain"
	"classroom/internal/feed"
	"classroom/internal/models"
	"classroom/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	cfg    *config.Config
	engine *gin.Engine
	users  *repository.UserRepository
}

func setup(t *testing.T) *testServer {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := config.Default()
	cfg.JWT.AccessSecret = "test-secret"
	cfg.Server.RateLimitRPS = 0
	hub := feed.NewHub(16)
	bus := broadcast.NewMemoryBus(16)
	t.Cleanup(hub.Close)
	t.Cleanup(bus.Close)

	engine := Setup(cfg, Deps{DB: db, Feed: hub, Bus: bus, Log: zap.NewNop()})
	return &testServer{cfg: cfg, engine: engine, users: repository.NewUserRepository(db)}
}

func (s *testServer) user(t *testing.T, name, role string, enabled bool) (*models.User, string) {
	t.Helper()
	u := &models.User{
		Name:        name,
		Email:       name + "@example.edu",
		Role:        role,
		Preferences: models.NotificationPreference{Enabled: enabled, PushPermission: domain.PushPermissionDefault},
	}
	require.NoError(t, s.users.Create(context.Background(), u))
	token, err := auth.GenerateAccessToken(&s.cfg.JWT, u.ID, role)
	require.NoError(t, err)
	return u, token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestChatFlow(t *testing.T) {
	s := setup(t)
	ana, anaToken := s.user(t, "ana", domain.RoleStudent, true)
	ben, benToken := s.user(t, "ben", domain.RoleStudent, true)

	w := s.do(t, http.MethodPost, "/api/v1/conversations", anaToken, gin.H{"peer_id": ben.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started struct {
		Conversation models.Conversation `json:"conversation"`
	}
	decode(t, w, &started)
	convPath := fmt.Sprintf("/api/v1/conversations/%d", started.Conversation.ID)

	w = s.do(t, http.MethodPost, "/api/v1/conversations", anaToken, gin.H{"peer_id": ana.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, convPath+"/messages", anaToken, gin.H{"content": "hello ben"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sent struct {
		Message models.Message `json:"message"`
	}
	decode(t, w, &sent)
	assert.Equal(t, ben.ID, sent.Message.ReceiverID)

	w = s.do(t, http.MethodPost, convPath+"/messages", anaToken, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/conversations", benToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Conversations []struct {
			ID          uint   `json:"id"`
			PeerID      uint   `json:"peer_id"`
			UnreadCount int64  `json:"unread_count"`
			LastMessage string `json:"last_message"`
		} `json:"conversations"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Conversations, 1)
	assert.Equal(t, ana.ID, listed.Conversations[0].PeerID)
	assert.EqualValues(t, 1, listed.Conversations[0].UnreadCount)
	assert.Equal(t, "hello ben", listed.Conversations[0].LastMessage)

	w = s.do(t, http.MethodGet, "/api/v1/me/badges", benToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"badges":{"notifications":1,"messages":1},"total":2}`, w.Body.String())

	w = s.do(t, http.MethodPost, convPath+"/read", benToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())

	w = s.do(t, http.MethodGet, convPath+"/messages?limit=10", benToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Messages []models.Message `json:"messages"`
	}
	decode(t, w, &history)
	require.Len(t, history.Messages, 1)
	assert.True(t, history.Messages[0].IsRead)

	w = s.do(t, http.MethodPost, convPath+"/typing", benToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	msgPath := fmt.Sprintf("/api/v1/messages/%d", sent.Message.ID)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, msgPath, benToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, msgPath, anaToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, msgPath, anaToken, nil).Code)

	_, cyToken := s.user(t, "cy", domain.RoleStudent, true)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, convPath+"/messages", cyToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, convPath+"/messages", "", nil).Code)
}

func TestNotifyEndpoint(t *testing.T) {
	s := setup(t)
	lecturer, lecturerToken := s.user(t, "lee", domain.RoleLecturer, true)
	ana, anaToken := s.user(t, "ana", domain.RoleStudent, true)
	ben, _ := s.user(t, "ben", domain.RoleStudent, false)

	body := gin.H{
		"event":           "assignment",
		"payload":         gin.H{"assignment_id": 77, "class_id": 3, "lecturer_id": lecturer.ID, "title": "Essay 1"},
		"recipient_ids":   []uint{ana.ID, ben.ID},
		"idempotency_key": "assignment:77",
	}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/notifications", anaToken, body).Code)

	w := s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"result":{"created":1,"duplicates":0,"skipped":1,"failed":0}}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":{"created":0,"duplicates":1,"skipped":1,"failed":0}}`, w.Body.String())

	body["event"] = "homework"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, body).Code)
	body["event"] = "grade"
	body["payload"] = gin.H{"score": "A+"}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, body).Code)
}

func TestNotifyAttributesLecturerEvents(t *testing.T) {
	s := setup(t)
	lecturer, lecturerToken := s.user(t, "lee", domain.RoleLecturer, true)
	other, _ := s.user(t, "max", domain.RoleLecturer, true)
	ana, anaToken := s.user(t, "ana", domain.RoleStudent, true)
	ben, _ := s.user(t, "ben", domain.RoleStudent, true)
	_, systemToken := s.user(t, "registry", domain.RoleSystem, false)

	w := s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, gin.H{
		"event":         "message",
		"payload":       gin.H{"conversation_id": 999, "sender_id": ben.ID, "sender_name": "ben", "preview": "send me your password"},
		"recipient_ids": []uint{ana.ID},
	})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/v1/notifications", systemToken, gin.H{
		"event":         "message",
		"payload":       gin.H{"conversation_id": 999, "sender_id": ben.ID},
		"recipient_ids": []uint{ana.ID},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	submission := gin.H{
		"event":         "submission",
		"payload":       gin.H{"submission_id": 5, "assignment_id": 4, "class_id": 3, "student_id": ben.ID, "student_name": "ben", "assignment_title": "Lab 2"},
		"recipient_ids": []uint{ana.ID},
	}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, submission).Code)
	w = s.do(t, http.MethodPost, "/api/v1/notifications", systemToken, submission)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, gin.H{
		"event":         "assignment",
		"payload":       gin.H{"assignment_id": 77, "class_id": 3, "lecturer_id": other.ID, "title": "Essay 1"},
		"recipient_ids": []uint{ana.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/me/notifications", anaToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Notifications []models.Notification `json:"notifications"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Notifications, 2)
	senders := map[domain.NotificationType]uint{}
	for _, n := range listed.Notifications {
		assert.NotEqual(t, domain.NotificationMessage, n.Type)
		require.NotNil(t, n.SenderID)
		senders[n.Type] = *n.SenderID
	}
	assert.Equal(t, lecturer.ID, senders[domain.NotificationAssignment], "lecturers are recorded as the author")
	assert.Equal(t, ben.ID, senders[domain.NotificationSubmission], "the system may name another actor")
}

func TestNotificationEndpoints(t *testing.T) {
	s := setup(t)
	_, lecturerToken := s.user(t, "lee", domain.RoleLecturer, true)
	ana, anaToken := s.user(t, "ana", domain.RoleStudent, true)
	_, benToken := s.user(t, "ben", domain.RoleStudent, true)

	for i := 1; i <= 2; i++ {
		w := s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, gin.H{
			"event":         "announcement",
			"payload":       gin.H{"announcement_id": i, "class_id": 3, "title": "News", "body": "Room change"},
			"recipient_ids": []uint{ana.ID},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/v1/me/notifications", anaToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Notifications []models.Notification `json:"notifications"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Notifications, 2)
	id := listed.Notifications[0].ID

	openPath := fmt.Sprintf("/api/v1/me/notifications/%d/open", id)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, openPath, benToken, nil).Code)
	w = s.do(t, http.MethodPost, openPath, anaToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"target":{"type":"announcement","related_id":2,"class_id":3,"role":"STUDENT"}}`, w.Body.String())

	readPath := fmt.Sprintf("/api/v1/me/notifications/%d/read", id)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, readPath, anaToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, readPath, benToken, nil).Code)

	w = s.do(t, http.MethodPut, "/api/v1/me/notifications/read-all", anaToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())

	w = s.do(t, http.MethodDelete, "/api/v1/me/notifications", anaToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())
}

func TestPreferenceEndpoints(t *testing.T) {
	s := setup(t)
	_, token := s.user(t, "ana", domain.RoleStudent, true)

	w := s.do(t, http.MethodGet, "/api/v1/me/notification-preferences", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"preferences":{"enabled":true,"push_permission":"default","push_enabled":false}}`, w.Body.String())

	w = s.do(t, http.MethodPatch, "/api/v1/me/notification-preferences", token, gin.H{"push_permission": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPatch, "/api/v1/me/notification-preferences", token, gin.H{"push_permission": "granted", "push_enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"preferences":{"enabled":true,"push_permission":"granted","push_enabled":true}}`, w.Body.String())

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/me/fcm-token", token, gin.H{"token": "abc"}).Code)
}

func TestUploadsDisabledWithoutCloudinary(t *testing.T) {
	s := setup(t)
	_, token := s.user(t, "ana", domain.RoleStudent, true)
	w := s.do(t, http.MethodPost, "/api/v1/me/uploads/attachment", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsExposed(t *testing.T) {
	s := setup(t)
	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

type frame struct {
	Type         string               `json:"type"`
	Messages     []models.Message     `json:"messages"`
	UserIDs      []uint               `json:"user_ids"`
	Badges       map[string]int64     `json:"badges"`
	Notification *models.Notification `json:"notification"`
	Conversation *models.Conversation `json:"conversation"`
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, ok func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if ok(f) {
			return f
		}
	}
}

func TestChatWebSocket(t *testing.T) {
	s := setup(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	ana, anaToken := s.user(t, "ana", domain.RoleStudent, true)
	ben, benToken := s.user(t, "ben", domain.RoleStudent, true)

	w := s.do(t, http.MethodPost, "/api/v1/conversations", anaToken, gin.H{"peer_id": ben.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var started struct {
		Conversation models.Conversation `json:"conversation"`
	}
	decode(t, w, &started)
	convID := started.Conversation.ID

	benConn := dial(t, srv, fmt.Sprintf("/ws/chat?token=%s&conversation_id=%d", benToken, convID))
	f := readUntil(t, benConn, func(f frame) bool { return f.Type == "conversation" })
	require.NotNil(t, f.Conversation)
	assert.Equal(t, convID, f.Conversation.ID)
	readUntil(t, benConn, func(f frame) bool { return f.Type == "messages" && len(f.Messages) == 0 })
	anaConn := dial(t, srv, fmt.Sprintf("/ws/chat?token=%s&conversation_id=%d", anaToken, convID))
	readUntil(t, anaConn, func(f frame) bool { return f.Type == "messages" })

	require.NoError(t, anaConn.WriteJSON(gin.H{"type": "typing"}))
	f = readUntil(t, benConn, func(f frame) bool { return f.Type == "typing" && len(f.UserIDs) == 1 })
	assert.Equal(t, []uint{ana.ID}, f.UserIDs)

	require.NoError(t, anaConn.WriteJSON(gin.H{"type": "message", "content": "over the socket"}))
	f = readUntil(t, benConn, func(f frame) bool { return f.Type == "messages" && len(f.Messages) == 1 })
	assert.Equal(t, "over the socket", f.Messages[0].Content)
	assert.False(t, f.Messages[0].IsRead)

	require.NoError(t, benConn.WriteJSON(gin.H{"type": "read"}))
	f = readUntil(t, anaConn, func(f frame) bool {
		return f.Type == "messages" && len(f.Messages) == 1 && f.Messages[0].IsRead
	})
	assert.Equal(t, ana.ID, f.Messages[0].SenderID)

	require.NoError(t, benConn.WriteJSON(gin.H{"type": "message", "content": ""}))
	f = readUntil(t, benConn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "error", f.Type)
}

func TestChatWebSocketRejectsOutsiders(t *testing.T) {
	s := setup(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	_, anaToken := s.user(t, "ana", domain.RoleStudent, true)
	ben, _ := s.user(t, "ben", domain.RoleStudent, true)
	_, cyToken := s.user(t, "cy", domain.RoleStudent, true)
	w := s.do(t, http.MethodPost, "/api/v1/conversations", anaToken, gin.H{"peer_id": ben.ID})
	require.Equal(t, http.StatusOK, w.Code)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?conversation_id=1&token=" + cyToken
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotificationWebSocket(t *testing.T) {
	s := setup(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	_, lecturerToken := s.user(t, "lee", domain.RoleLecturer, true)
	ana, anaToken := s.user(t, "ana", domain.RoleStudent, true)

	conn := dial(t, srv, "/ws/notifications?token="+anaToken)
	readUntil(t, conn, func(f frame) bool { return f.Type == "badge" })

	w := s.do(t, http.MethodPost, "/api/v1/notifications", lecturerToken, gin.H{
		"event":         "grade",
		"payload":       gin.H{"submission_id": 5, "assignment_id": 4, "class_id": 3, "assignment_title": "Lab 2", "score": 18},
		"recipient_ids": []uint{ana.ID},
	})
	require.Equal(t, http.StatusOK, w.Code)

	f := readUntil(t, conn, func(f frame) bool { return f.Type == "notification" })
	require.NotNil(t, f.Notification)
	assert.Equal(t, domain.NotificationGrade, f.Notification.Type)
	f = readUntil(t, conn, func(f frame) bool { return f.Type == "badge" && f.Badges["notifications"] == 1 })
	assert.Zero(t, f.Badges["messages"])
}
