package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"

	"fanlink-client/internal/channel"
	"fanlink-client/internal/gate"
	"fanlink-client/internal/models"
	"fanlink-client/internal/session"
)

// Connect reports nothing back: the channel retries on its own and the
// watch command must not expect an error from it.
var _ func(string) = (*channel.Channel)(nil).Connect

func TestRenderLine(t *testing.T) {
	log := slogt.New(t)
	sess := session.New(nil, log)
	g := gate.New(nil, sess, log)
	viewer := models.Identity{ID: "fan"}
	price := 5.0
	teaser := "a sneak peek"

	open := models.Message{
		ID:        "m1",
		SenderID:  "creator",
		Type:      models.MessageText,
		Text:      "hello there",
		CreatedAt: time.Now(),
	}
	assert.Contains(t, renderLine(g, viewer, open), "hello there")

	attachment := models.Message{
		ID:         "m2",
		SenderID:   "creator",
		Type:       models.MessageImage,
		ContentRef: "/messages/m2/file",
		CreatedAt:  time.Now(),
	}
	line := renderLine(g, viewer, attachment)
	assert.Contains(t, line, "image")
	assert.Contains(t, line, "/messages/m2/file")

	preview := models.Message{
		ID:           "m3",
		SenderID:     "creator",
		Type:         models.MessageText,
		Text:         "the secret",
		IsPayPerView: true,
		Price:        &price,
		PreviewText:  &teaser,
		CreatedAt:    time.Now(),
	}
	line = renderLine(g, viewer, preview)
	assert.Contains(t, line, teaser)
	assert.Contains(t, line, "$5.00")
	assert.NotContains(t, line, "the secret")

	locked := models.Message{
		ID:           "m4",
		SenderID:     "creator",
		Type:         models.MessageImage,
		IsPayPerView: true,
		Price:        &price,
		CreatedAt:    time.Now(),
	}
	line = renderLine(g, viewer, locked)
	assert.Contains(t, line, "locked")
	assert.Contains(t, line, "$5.00")

	past := time.Now().Add(-time.Minute)
	expired := models.Message{
		ID:        "m5",
		SenderID:  "creator",
		Type:      models.MessageText,
		Text:      "gone",
		ExpiresAt: &past,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	line = renderLine(g, viewer, expired)
	assert.True(t, strings.HasSuffix(line, "[expired]"), "expired content renders nothing but the marker: %q", line)
}
