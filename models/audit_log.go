package models

import "time"

// AuditLog records administrative actions on students, such as
// deactivation and removal, together with the staff member who did it.
type AuditLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Action        string    `gorm:"size:32;index;not null" json:"action"`
	StudentID     uint      `gorm:"index" json:"studentId"`
	ActorID       uint      `json:"actorId"`
	ActorUsername string    `gorm:"size:64" json:"actorUsername"`
	Detail        string    `gorm:"size:255" json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_log" }
