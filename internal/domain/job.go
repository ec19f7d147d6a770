package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobType selects which raw record variant an import job carries.
// Values include JobTypeRestaurant and JobTypeDish.
type JobType string

const (
	JobTypeRestaurant JobType = "RESTAURANT"
	JobTypeDish       JobType = "DISH"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobTypeRestaurant || t == JobTypeDish
}

// JobStatus represents the status of an import job.
type JobStatus string

const (
	JobStatusPending             JobStatus = "PENDING"
	JobStatusInProgress          JobStatus = "IN_PROGRESS"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
)

// BatchStatus represents the status of an import batch.
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "PENDING"
	BatchStatusInProgress          BatchStatus = "IN_PROGRESS"
	BatchStatusCompleted           BatchStatus = "COMPLETED"
	BatchStatusCompletedWithErrors BatchStatus = "COMPLETED_WITH_ERRORS"
	BatchStatusFailed              BatchStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusCompletedWithErrors, BatchStatusFailed:
		return true
	}
	return false
}

// ItemError records why a single raw record in a batch was rejected.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// ItemErrors is a custom type for storing per-item failures as JSON in the database.
type ItemErrors []ItemError

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string, or nil when there are no errors.
//   - error: non-nil if marshaling fails.
func (e ItemErrors) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (e *ItemErrors) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ItemErrors")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, e)
}

// ImportJob tracks the progress of one scheduled import across all its batches.
// Invariant: ProcessedRecords = SuccessRecords + ErrorRecords <= TotalRecords.
type ImportJob struct {
	JobID            string     `gorm:"column:job_id;type:text;primaryKey" json:"jobId"`
	SourceID         string     `gorm:"type:text;not null;index" json:"sourceId"`
	JobType          JobType    `gorm:"type:text;not null" json:"jobType"`
	Status           JobStatus  `gorm:"type:text;not null;default:PENDING" json:"status"`
	TotalRecords     int        `gorm:"not null;default:0" json:"totalRecords"`
	ProcessedRecords int        `gorm:"not null;default:0" json:"processedRecords"`
	SuccessRecords   int        `gorm:"not null;default:0" json:"successRecords"`
	ErrorRecords     int        `gorm:"not null;default:0" json:"errorRecords"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// TableName returns the database table name for ImportJob.
func (ImportJob) TableName() string {
	return "import_jobs"
}

// Terminal reports whether every record of the job has been accounted for.
func (j *ImportJob) Terminal() bool {
	return j.CompletedAt != nil
}

// ImportBatch is one slice of an import job delivered as a single queue message.
type ImportBatch struct {
	BatchID      string      `gorm:"column:batch_id;type:text;primaryKey" json:"batchId"`
	JobID        string      `gorm:"column:job_id;type:text;not null;index:idx_import_batches_job" json:"jobId"`
	BatchNumber  int         `gorm:"not null" json:"batchNumber"`
	Status       BatchStatus `gorm:"type:text;not null;default:PENDING;index:idx_import_batches_status" json:"status"`
	ItemCount    int         `gorm:"not null;default:0" json:"itemCount"`
	SuccessCount int         `gorm:"not null;default:0" json:"successCount"`
	ErrorCount   int         `gorm:"not null;default:0" json:"errorCount"`
	ErrorDetails ItemErrors  `gorm:"type:text" json:"errorDetails,omitempty"`
	FailureCause string      `gorm:"type:text" json:"failureCause,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// TableName returns the database table name for ImportBatch.
func (ImportBatch) TableName() string {
	return "import_batches"
}
