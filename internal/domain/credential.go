package domain

import "time"

// Credential holds the opaque authentication material of an instance.
type Credential struct {
	InstanceID string    `json:"instance_id" gorm:"primaryKey;size:128"`
	Material   []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Credential) TableName() string {
	return "wa_credential"
}
