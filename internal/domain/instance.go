package domain

import "time"

// InstanceStatus is the lifecycle state of a managed chat account.
type InstanceStatus string

const (
	StatusIdle         InstanceStatus = "idle"
	StatusConnecting   InstanceStatus = "connecting"
	StatusQRPending    InstanceStatus = "qr_pending"
	StatusConnected    InstanceStatus = "connected"
	StatusReconnecting InstanceStatus = "reconnecting"
	StatusDisconnected InstanceStatus = "disconnected"
	StatusLoggedOut    InstanceStatus = "logged_out"

	// StatusUnknown is only ever reported, never stored.
	StatusUnknown InstanceStatus = "unknown"
)

// WasLive reports whether the instance was serving (or trying to) when last recorded.
func (s InstanceStatus) WasLive() bool {
	return s == StatusConnected || s == StatusReconnecting
}

var storedStatuses = []InstanceStatus{
	StatusIdle, StatusConnecting, StatusQRPending, StatusConnected,
	StatusReconnecting, StatusDisconnected, StatusLoggedOut,
}

// LiveStatuses lists the stored statuses for which WasLive holds.
func LiveStatuses() []InstanceStatus {
	var out []InstanceStatus
	for _, s := range storedStatuses {
		if s.WasLive() {
			out = append(out, s)
		}
	}
	return out
}

// Instance is the durable record of one chat account.
// populated on first start, never deleted by the gateway itself
type Instance struct {
	ID          int64          `json:"id,string" gorm:"primaryKey"`
	InstanceID  string         `json:"instance_id" gorm:"uniqueIndex;size:128"`
	Status      InstanceStatus `json:"status" gorm:"index;size:32"`
	PhoneNumber string         `json:"phone_number" gorm:"size:32"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastSeen    *time.Time     `json:"last_seen"`
}

func (Instance) TableName() string {
	return "wa_instance"
}
