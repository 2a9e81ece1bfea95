package session

import (
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/provider"
)

type reasonPolicy struct {
	reconnect      bool
	wipeCredential bool
	// status entered when the close is terminal
	terminalStatus domain.InstanceStatus
}

var (
	transient = reasonPolicy{reconnect: true}
	revoked   = reasonPolicy{wipeCredential: true, terminalStatus: domain.StatusLoggedOut}
)

// reasonTable decides what a closed connection leads to. Nothing else in the
// package inspects disconnect reasons.
var reasonTable = map[provider.DisconnectReason]reasonPolicy{
	provider.ReasonLoggedOut:   revoked,
	provider.ReasonAuthFailure: revoked,

	provider.ReasonConnectionClosed:   transient,
	provider.ReasonConnectionLost:     transient,
	provider.ReasonConnectionReplaced: transient,
	provider.ReasonTimedOut:           transient,
	provider.ReasonRestartRequired:    transient,
	provider.ReasonBadSession:         transient,
	provider.ReasonServiceUnavailable: transient,
	provider.ReasonTemporaryBan:       transient,
	provider.ReasonClientOutdated:     transient,
	provider.ReasonUnknown:            transient,
}

func classify(reason provider.DisconnectReason) reasonPolicy {
	if p, ok := reasonTable[reason]; ok {
		return p
	}
	return reasonTable[provider.ReasonUnknown]
}
