package models

import (
	"testing"
	"time"

	"classroom/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestNewConversationCanonicalOrder(t *testing.T) {
	c := NewConversation(9, 4)
	assert.Equal(t, uint(4), c.ParticipantAID)
	assert.Equal(t, uint(9), c.ParticipantBID)
	assert.Equal(t, uint(9), c.Peer(4))
	assert.Equal(t, uint(4), c.Peer(9))
	assert.Equal(t, uint(0), c.Peer(5))
	assert.False(t, c.HasParticipant(0))
}

func TestSortMessagesTieBreaksOnID(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	list := []Message{
		{ID: 3, CreatedAt: ts},
		{ID: 1, CreatedAt: ts.Add(time.Second)},
		{ID: 2, CreatedAt: ts},
	}
	SortMessages(list)
	assert.Equal(t, []uint{2, 3, 1}, []uint{list[0].ID, list[1].ID, list[2].ID})
}

func TestPreferenceGlobalSwitchWins(t *testing.T) {
	p := NotificationPreference{Enabled: false, PushEnabled: true, PushPermission: domain.PushPermissionGranted}
	assert.False(t, p.AllowsInApp())
	assert.False(t, p.AllowsPush())

	p.Enabled = true
	assert.True(t, p.AllowsPush())

	p.PushPermission = domain.PushPermissionDenied
	assert.False(t, p.AllowsPush())
}

func TestMessagePreviewFallsBackToAttachment(t *testing.T) {
	m := Message{Attachment: Attachment{Name: "notes.pdf", URL: "https://x/notes.pdf"}}
	assert.Equal(t, "notes.pdf", m.Preview())
	m.Content = "   "
	assert.Equal(t, "notes.pdf", m.Preview())
	m.Content = " see attached\n"
	assert.Equal(t, "see attached", m.Preview())
}
