package keys

import "time"

// RotationState tracks where a credential is in its rotation lifecycle.
type RotationState string

const (
	RotationNone       RotationState = "none"
	RotationScheduled  RotationState = "scheduled"
	RotationInProgress RotationState = "in_progress"
	RotationCompleted  RotationState = "completed"
	RotationFailed     RotationState = "failed"
)

// RotationStatus is the rotation bookkeeping owned by one credential.
// History is append-only.
type RotationStatus struct {
	Status       RotationState   `json:"status"`
	LastRotation *time.Time      `json:"lastRotation,omitempty"`
	NextRotation *time.Time      `json:"nextScheduledRotation,omitempty"`
	History      []RotationEvent `json:"rotationHistory,omitempty"`
}

// RotationEvent records one rotation attempt.
type RotationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	OldKeyID  string    `json:"oldKeyId,omitempty"`
	NewKeyID  string    `json:"newKeyId,omitempty"`
}

// NewRotationStatus returns the initial rotation state for a fresh
// credential.
func NewRotationStatus() *RotationStatus {
	return &RotationStatus{Status: RotationNone}
}

// RecordEvent appends an attempt to the history and updates the summary
// fields.
func (r *RotationStatus) RecordEvent(ev RotationEvent) {
	r.History = append(r.History, ev)
	if ev.Success {
		r.Status = RotationCompleted
		t := ev.Timestamp
		r.LastRotation = &t
	} else {
		r.Status = RotationFailed
	}
}
