// Package provider defines the boundary between the session core and the
// chat protocol engine. The core only ever sees these types.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by a Socket used after Close.
	ErrClosed = errors.New("socket closed")
	// ErrInvalidTarget is returned by Send for an unaddressable recipient.
	ErrInvalidTarget = errors.New("invalid target")
)

// Listener receives the three event classes a socket produces.
// Calls for one socket are made from the socket's own goroutines and may
// arrive concurrently; receivers must not block for long.
type Listener interface {
	CredsUpdated(material []byte)
	ConnectionChanged(update ConnectionUpdate)
	MessagesReceived(batch MessageBatch)
}

// Provider opens sockets for instances.
type Provider interface {
	// Open starts a socket authenticated with cred (nil for a fresh pairing).
	// The socket begins emitting events to l as soon as Open returns.
	Open(ctx context.Context, instanceID string, cred []byte, l Listener) (Socket, error)
	// Forget drops whatever key material the engine keeps for cred.
	Forget(ctx context.Context, instanceID string, cred []byte) error
}

// Socket is one live protocol connection.
type Socket interface {
	Send(ctx context.Context, to string, content OutboundContent) (SendResult, error)
	// Logout revokes the pairing on the server side.
	Logout(ctx context.Context) error
	// Close drops the connection without revoking anything. Idempotent.
	Close() error
}

type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// ConnectionUpdate is a partial connection report. Any field may be empty.
type ConnectionUpdate struct {
	State       ConnectionState
	PairingCode string
	Reason      DisconnectReason
	PhoneNumber string
}

type DisconnectReason string

const (
	ReasonLoggedOut          DisconnectReason = "logged_out"
	ReasonAuthFailure        DisconnectReason = "auth_failure"
	ReasonConnectionClosed   DisconnectReason = "connection_closed"
	ReasonConnectionLost     DisconnectReason = "connection_lost"
	ReasonConnectionReplaced DisconnectReason = "connection_replaced"
	ReasonTimedOut           DisconnectReason = "timed_out"
	ReasonRestartRequired    DisconnectReason = "restart_required"
	ReasonBadSession         DisconnectReason = "bad_session"
	ReasonServiceUnavailable DisconnectReason = "service_unavailable"
	ReasonTemporaryBan       DisconnectReason = "temporary_ban"
	ReasonClientOutdated     DisconnectReason = "client_outdated"
	ReasonUnknown            DisconnectReason = "unknown"
)

// Batch types. Only BatchNotify carries live traffic.
const (
	BatchNotify = "notify"
	BatchAppend = "append"
)

type MessageBatch struct {
	Type     string
	Messages []RawMessage
}

type MessageKey struct {
	RemoteJID string
	FromMe    bool
	ID        string
}

type RawMessage struct {
	Key       MessageKey
	PushName  string
	Timestamp int64 // unix seconds
	Content   MessageContent
}

// MessageContent carries the text-bearing parts of a message. A nil
// media pointer means that kind is absent.
type MessageContent struct {
	Conversation string
	ExtendedText string
	Image        *MediaPart
	Video        *MediaPart
	Document     *MediaPart
	Audio        *MediaPart
}

type MediaPart struct {
	Caption  string
	Mimetype string
}

type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

type OutboundMedia struct {
	URL  string
	Type MediaType
}

// OutboundContent is a text message, or a media message whose Text is the caption.
type OutboundContent struct {
	Text  string
	Media *OutboundMedia
}

type SendResult struct {
	MessageID string `json:"messageId"`
}
