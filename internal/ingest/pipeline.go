// Package ingest turns raw inbound protocol messages into message.received events.
package ingest

import (
	"strings"

	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/webhook"
	"go.uber.org/zap"
)

// Notifier is the outbound side of the pipeline.
type Notifier interface {
	Send(event, instanceID string, data any)
}

// Inbound is the canonical form of one accepted message.
type Inbound struct {
	From      string
	Body      string
	MediaType provider.MediaType
	PushName  string
	MessageID string
	Timestamp int64
}

// Payload renders the webhook data, leaving out empty optional fields.
func (m Inbound) Payload() map[string]any {
	data := map[string]any{
		"from":      m.From,
		"body":      m.Body,
		"messageId": m.MessageID,
		"timestamp": m.Timestamp,
	}
	if m.MediaType != "" {
		data["mediaType"] = string(m.MediaType)
	}
	if m.PushName != "" {
		data["pushName"] = m.PushName
	}
	return data
}

type Pipeline struct {
	notifier Notifier
}

func New(n Notifier) *Pipeline {
	return &Pipeline{notifier: n}
}

// Handle forwards every accepted message of a live batch and returns how many were emitted.
func (p *Pipeline) Handle(instanceID string, batch provider.MessageBatch) int {
	if batch.Type != provider.BatchNotify {
		return 0
	}
	n := 0
	for _, raw := range batch.Messages {
		msg, ok := Normalize(raw)
		if !ok {
			continue
		}
		p.notifier.Send(webhook.EventMessageReceived, instanceID, msg.Payload())
		n++
	}
	if n > 0 {
		zap.L().Debug("inbound messages forwarded", zap.String("instance", instanceID), zap.Int("count", n))
	}
	return n
}

// Normalize applies the filters. It reports false for messages that are
// self-originated, unroutable or carry no text.
func Normalize(raw provider.RawMessage) (Inbound, bool) {
	if raw.Key.FromMe || raw.Key.RemoteJID == "" {
		return Inbound{}, false
	}
	body := extractBody(raw.Content)
	if body == "" {
		return Inbound{}, false
	}
	return Inbound{
		From:      userPart(raw.Key.RemoteJID),
		Body:      body,
		MediaType: classify(raw.Content),
		PushName:  raw.PushName,
		MessageID: raw.Key.ID,
		Timestamp: raw.Timestamp,
	}, true
}

// userPart strips the server and device suffixes of a JID.
func userPart(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

func extractBody(c provider.MessageContent) string {
	switch {
	case c.Conversation != "":
		return c.Conversation
	case c.ExtendedText != "":
		return c.ExtendedText
	}
	for _, part := range []*provider.MediaPart{c.Image, c.Video, c.Document} {
		if part != nil && part.Caption != "" {
			return part.Caption
		}
	}
	return ""
}

func classify(c provider.MessageContent) provider.MediaType {
	switch {
	case c.Image != nil:
		return provider.MediaImage
	case c.Video != nil:
		return provider.MediaVideo
	case c.Audio != nil:
		return provider.MediaAudio
	case c.Document != nil:
		return provider.MediaDocument
	}
	return ""
}
