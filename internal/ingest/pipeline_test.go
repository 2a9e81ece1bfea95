package ingest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/webhook"
)

type sent struct {
	event    string
	instance string
	data     map[string]any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Send(event, instanceID string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, _ := data.(map[string]any)
	r.sent = append(r.sent, sent{event: event, instance: instanceID, data: m})
}

func msg(id string, content provider.MessageContent) provider.RawMessage {
	return provider.RawMessage{
		Key:       provider.MessageKey{RemoteJID: "5511999999999@s.whatsapp.net", ID: id},
		PushName:  "Ana",
		Timestamp: 1700000000,
		Content:   content,
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		raw       provider.RawMessage
		ok        bool
		body      string
		mediaType provider.MediaType
	}{
		{
			name: "plain text",
			raw:  msg("1", provider.MessageContent{Conversation: "hi"}),
			ok:   true, body: "hi",
		},
		{
			name: "extended text",
			raw:  msg("2", provider.MessageContent{ExtendedText: "quoted reply"}),
			ok:   true, body: "quoted reply",
		},
		{
			name: "conversation wins over extended text",
			raw:  msg("3", provider.MessageContent{Conversation: "a", ExtendedText: "b"}),
			ok:   true, body: "a",
		},
		{
			name: "image caption",
			raw:  msg("4", provider.MessageContent{Image: &provider.MediaPart{Caption: "look"}}),
			ok:   true, body: "look", mediaType: provider.MediaImage,
		},
		{
			name: "video caption",
			raw:  msg("5", provider.MessageContent{Video: &provider.MediaPart{Caption: "clip"}}),
			ok:   true, body: "clip", mediaType: provider.MediaVideo,
		},
		{
			name: "document caption",
			raw:  msg("6", provider.MessageContent{Document: &provider.MediaPart{Caption: "invoice"}}),
			ok:   true, body: "invoice", mediaType: provider.MediaDocument,
		},
		{
			name: "image without caption is dropped",
			raw:  msg("7", provider.MessageContent{Image: &provider.MediaPart{}}),
		},
		{
			name: "audio has no text",
			raw:  msg("8", provider.MessageContent{Audio: &provider.MediaPart{}}),
		},
		{
			name: "self originated",
			raw: provider.RawMessage{
				Key:     provider.MessageKey{RemoteJID: "1@s.whatsapp.net", FromMe: true, ID: "9"},
				Content: provider.MessageContent{Conversation: "echo"},
			},
		},
		{
			name: "missing routing key",
			raw: provider.RawMessage{
				Key:     provider.MessageKey{ID: "10"},
				Content: provider.MessageContent{Conversation: "lost"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.body, got.Body)
			assert.Equal(t, tt.mediaType, got.MediaType)
			assert.Equal(t, "5511999999999", got.From)
		})
	}
}

func TestPipeline_Handle(t *testing.T) {
	rec := &recorder{}
	p := New(rec)

	batch := provider.MessageBatch{
		Type: provider.BatchNotify,
		Messages: []provider.RawMessage{
			msg("1", provider.MessageContent{Conversation: "hi"}),
			msg("2", provider.MessageContent{}),
			msg("3", provider.MessageContent{Image: &provider.MediaPart{Caption: "pic"}}),
		},
	}
	assert.Equal(t, 2, p.Handle("A", batch))

	require.Len(t, rec.sent, 2)
	first := rec.sent[0]
	assert.Equal(t, webhook.EventMessageReceived, first.event)
	assert.Equal(t, "A", first.instance)
	assert.Equal(t, map[string]any{
		"from":      "5511999999999",
		"body":      "hi",
		"pushName":  "Ana",
		"messageId": "1",
		"timestamp": int64(1700000000),
	}, first.data)
	assert.Equal(t, "image", rec.sent[1].data["mediaType"])
}

func TestPipeline_IgnoresHistoryBatches(t *testing.T) {
	rec := &recorder{}
	p := New(rec)
	n := p.Handle("A", provider.MessageBatch{
		Type:     provider.BatchAppend,
		Messages: []provider.RawMessage{msg("1", provider.MessageContent{Conversation: "old"})},
	})
	assert.Zero(t, n)
	assert.Empty(t, rec.sent)
}
