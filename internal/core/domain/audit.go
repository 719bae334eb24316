package domain

import "time"

type AuditEntry struct {
	ID        string
	ActorID   string
	Action    string
	SubjectID string
	Details   string
	CreatedAt time.Time
}
