package task

import (
	"time"

	"fileforge/internal/convert"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Record is the server-held lifecycle state for one queued conversion.
// Once Status reaches done or error the record is frozen; DataBase64 is set
// if and only if Status is done.
type Record struct {
	ID           string           `json:"id"`
	Category     convert.Category `json:"category"`
	Status       Status           `json:"status"`
	Progress     int              `json:"progress"`
	Message      string           `json:"message,omitempty"`
	MIME         string           `json:"mime,omitempty"`
	DataBase64   string           `json:"dataBase64,omitempty"`
	FileName     string           `json:"fileName,omitempty"`
	FileURL      string           `json:"fileUrl,omitempty"`
	RetryAfterMs int              `json:"retryAfterMs,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Terminal reports whether the record reached a final status.
func (r *Record) Terminal() bool {
	return r.Status == StatusDone || r.Status == StatusError
}
