package models

import "time"

// Operation names a record mutation, or a role change or backup action for
// authorization.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationSetRole Operation = "set_role"
	OperationBackup  Operation = "backup"
)

// AuditEntry is written exactly once per accepted record mutation and never
// touched again.
type AuditEntry struct {
	LogID          string    `json:"logId"`
	Operation      Operation `json:"operation"`
	Wallet         string    `json:"wallet"`
	RecordID       string    `json:"recordId"`
	PreviousRecord *Record   `json:"previousRecord"`
	NewRecord      Record    `json:"newRecord"`
	Timestamp      time.Time `json:"timestamp"`
}
