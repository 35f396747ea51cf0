package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Done reports whether the job reached a final state.
func (s JobStatus) Done() bool { return s == JobSucceeded || s == JobFailed }

// Job is one queued transcription of an uploaded audio file.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	UserID    uint64 `gorm:"index;not null" json:"-"`
	SessionID string `gorm:"size:26;index;not null" json:"session_id"`

	FileName    string `gorm:"type:varchar(255);not null" json:"file_name"`
	ContentType string `gorm:"type:varchar(128);not null" json:"content_type"`
	ObjectKey   string `gorm:"type:varchar(1024);not null" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_user_idempo,unique" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	TranscriptID *uint64 `json:"transcript_id,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "transcription_jobs" }
