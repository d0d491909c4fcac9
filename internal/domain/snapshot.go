package domain

import "time"

// SnapshotVersion is the schema version written by this client.
const SnapshotVersion = 1

// AntiCheat is the integrity monitor's persisted counter.
type AntiCheat struct {
	Strikes    int           `json:"strikes"`
	LastReason IntegrityKind `json:"last_reason,omitempty"`
	LastAt     *time.Time    `json:"last_at,omitempty"`
}

// Snapshot is the best-effort local mirror of a session, keyed by attempt id.
// It only exists to survive a reload; server state wins everywhere except answers.
type Snapshot struct {
	Version           int           `json:"version"`
	AttemptID         ID            `json:"attempt_id"`
	ExamID            ID            `json:"exam_id"`
	CurrentQuestionID ID            `json:"current_question_id"`
	Answers           map[ID]Answer `json:"answers"`
	Flags             []ID          `json:"flags"`
	Phase             Phase         `json:"phase,omitempty"`
	AntiCheat         *AntiCheat    `json:"anti_cheat,omitempty"`
	SavedAt           time.Time     `json:"saved_at"`
}

// Strikes returns the persisted strike count, zero when absent.
func (s Snapshot) Strikes() int {
	if s.AntiCheat == nil {
		return 0
	}
	return s.AntiCheat.Strikes
}
