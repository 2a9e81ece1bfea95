package whatsapp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/provider"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// socket adapts one whatsmeow client to provider.Socket.
type socket struct {
	instanceID string
	client     *whatsmeow.Client
	listener   provider.Listener
	provider   *Provider

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newSocket(instanceID string, client *whatsmeow.Client, l provider.Listener, p *Provider) *socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &socket{
		instanceID: instanceID,
		client:     client,
		listener:   l,
		provider:   p,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *socket) Send(ctx context.Context, to string, content provider.OutboundContent) (provider.SendResult, error) {
	if s.ctx.Err() != nil {
		return provider.SendResult{}, provider.ErrClosed
	}
	jid, err := ParseTarget(to)
	if err != nil {
		return provider.SendResult{}, err
	}
	msg, err := s.buildMessage(ctx, content)
	if err != nil {
		return provider.SendResult{}, err
	}
	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		zap.L().Warn("whatsapp: send message failed", zap.String("instance", s.instanceID), zap.Error(err))
		return provider.SendResult{}, errors.Wrap(err, "send")
	}
	zap.L().Info("whatsapp: message sent",
		zap.String("instance", s.instanceID), zap.String("to", jid.String()), zap.String("id", resp.ID))
	return provider.SendResult{MessageID: resp.ID}, nil
}

// Logout revokes the pairing. whatsmeow also drops the device keys on success.
func (s *socket) Logout(_ context.Context) error {
	if s.client.Store.ID == nil {
		return errors.New("not paired")
	}
	return s.client.Logout()
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.client.Disconnect()
	})
	return nil
}

func (s *socket) watchQR(qrc <-chan whatsmeow.QRChannelItem) {
	for item := range qrc {
		switch item.Event {
		case "code":
			s.listener.ConnectionChanged(provider.ConnectionUpdate{PairingCode: item.Code})
		case "success":
			// Connected follows
		case "timeout":
			s.listener.ConnectionChanged(provider.ConnectionUpdate{
				State: provider.StateClosed, Reason: provider.ReasonTimedOut})
		default:
			if s.ctx.Err() != nil {
				return
			}
			zap.L().Warn("whatsapp: pairing failed",
				zap.String("instance", s.instanceID), zap.String("event", item.Event), zap.Error(item.Error))
			s.listener.ConnectionChanged(provider.ConnectionUpdate{
				State: provider.StateClosed, Reason: provider.ReasonBadSession})
		}
	}
}

func (s *socket) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		s.listener.CredsUpdated([]byte(v.ID.String()))
	case *events.Connected:
		phone := ""
		if id := s.client.Store.ID; id != nil {
			phone = id.User
		}
		s.listener.ConnectionChanged(provider.ConnectionUpdate{State: provider.StateOpen, PhoneNumber: phone})
	case *events.Message:
		s.listener.MessagesReceived(provider.MessageBatch{
			Type:     provider.BatchNotify,
			Messages: []provider.RawMessage{toRawMessage(v)},
		})
	default:
		if reason, ok := disconnectReason(evt); ok {
			zap.L().Info("whatsapp: connection closed",
				zap.String("instance", s.instanceID), zap.String("reason", string(reason)))
			s.listener.ConnectionChanged(provider.ConnectionUpdate{State: provider.StateClosed, Reason: reason})
		}
	}
}

// disconnectReason maps whatsmeow close events onto provider reasons.
func disconnectReason(evt interface{}) (provider.DisconnectReason, bool) {
	switch v := evt.(type) {
	case *events.LoggedOut:
		return provider.ReasonLoggedOut, true
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			return provider.ReasonAuthFailure, true
		}
		return provider.ReasonServiceUnavailable, true
	case *events.StreamReplaced:
		return provider.ReasonConnectionReplaced, true
	case *events.StreamError:
		if v.Code == "515" {
			return provider.ReasonRestartRequired, true
		}
		return provider.ReasonConnectionClosed, true
	case *events.TemporaryBan:
		return provider.ReasonTemporaryBan, true
	case *events.ClientOutdated:
		return provider.ReasonClientOutdated, true
	case *events.Disconnected:
		return provider.ReasonConnectionLost, true
	case *events.KeepAliveTimeout:
		// whatsmeow keeps trying on its own, only a Disconnected ends the socket
		return "", false
	}
	return "", false
}

func toRawMessage(evt *events.Message) provider.RawMessage {
	raw := provider.RawMessage{
		Key: provider.MessageKey{
			RemoteJID: evt.Info.Chat.String(),
			FromMe:    evt.Info.IsFromMe,
			ID:        evt.Info.ID,
		},
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp.Unix(),
	}
	m := evt.Message
	if m == nil {
		return raw
	}
	raw.Content.Conversation = m.GetConversation()
	raw.Content.ExtendedText = m.GetExtendedTextMessage().GetText()
	if img := m.GetImageMessage(); img != nil {
		raw.Content.Image = &provider.MediaPart{Caption: img.GetCaption(), Mimetype: img.GetMimetype()}
	}
	if vid := m.GetVideoMessage(); vid != nil {
		raw.Content.Video = &provider.MediaPart{Caption: vid.GetCaption(), Mimetype: vid.GetMimetype()}
	}
	if doc := m.GetDocumentMessage(); doc != nil {
		raw.Content.Document = &provider.MediaPart{Caption: doc.GetCaption(), Mimetype: doc.GetMimetype()}
	}
	if aud := m.GetAudioMessage(); aud != nil {
		raw.Content.Audio = &provider.MediaPart{Mimetype: aud.GetMimetype()}
	}
	return raw
}
