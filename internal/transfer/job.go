package transfer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the queued unit of work: copy one shared file into the drive. The
// payload carries its own retry counter so requeues stay visible in the
// queue itself.
type Job struct {
	TaskID        string    `json:"task_id,omitempty"`
	MediaID       int64     `json:"media_id"`
	ShareURL      string    `json:"share_url"`
	ShareFIDToken string    `json:"share_fid_token"`
	OriginalFID   string    `json:"original_fid"`
	VirtualPath   string    `json:"virtual_path"`
	RetryCount    int       `json:"retry_count"`
	EnqueuedAt    time.Time `json:"enqueued_at,omitzero"`
}

// NewTaskID returns an identifier of the form task_<12 hex digits>.
func NewTaskID() string {
	id := uuid.New()

	return fmt.Sprintf("task_%x", id[:6])
}

// DecodeJob parses a queue payload. Malformed JSON or a missing media id is
// a validation error.
func DecodeJob(payload []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return Job{}, &ValidationError{Reason: fmt.Sprintf("decoding payload: %v", err)}
	}

	if j.MediaID <= 0 {
		return j, &ValidationError{Reason: "missing media_id"}
	}

	if j.RetryCount < 0 {
		j.RetryCount = 0
	}

	return j, nil
}

// Encode serializes the job for the queue.
func (j Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("transfer: encoding job for media %d: %w", j.MediaID, err)
	}

	return b, nil
}
