package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, err := scanBytes(value, "StringArray")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, a)
}

// Findings stores an ordered finding list as JSON in the database.
type Findings []DiseaseFinding

// Value implements the driver.Valuer interface for database serialization.
func (f Findings) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (f *Findings) Scan(value interface{}) error {
	if value == nil {
		*f = Findings{}
		return nil
	}
	bytes, err := scanBytes(value, "Findings")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, f)
}

func scanBytes(value interface{}, typ string) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("failed to scan " + typ)
}

// AnalysisRecord is the archived form of a completed analysis.
// It outlives the in-memory job and backs result lookups after eviction.
type AnalysisRecord struct {
	ID            string      `gorm:"type:text;primaryKey" json:"analysis_id"`
	CellCounts    CellCounts  `gorm:"type:text;not null" json:"cell_counts"`
	Diseases      Findings    `gorm:"type:text" json:"diseases"`
	Abnormalities StringArray `gorm:"type:text" json:"abnormalities"`
	Confidence    float64     `json:"confidence"`
	ImageKey      string      `gorm:"type:text" json:"image_key,omitempty"`
	ImageFormat   string      `gorm:"type:text" json:"image_format,omitempty"`
	Explanation   string      `gorm:"type:text" json:"explanation,omitempty"`
	CreatedAt     time.Time   `gorm:"index:idx_analysis_results_created_at" json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for AnalysisRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (AnalysisRecord) TableName() string {
	return "analysis_results"
}

// NewAnalysisRecord builds the archive row for a completed job snapshot.
func NewAnalysisRecord(job AnalysisJob) *AnalysisRecord {
	rec := &AnalysisRecord{
		ID:          job.ID,
		ImageKey:    job.ImageKey,
		ImageFormat: job.ImageFormat,
		CreatedAt:   job.CreatedAt,
	}
	if job.Result != nil {
		rec.CellCounts = job.Result.CellCounts
		rec.Diseases = Findings(job.Result.Diseases)
		rec.Abnormalities = StringArray(job.Result.Abnormalities)
		rec.Confidence = job.Result.Confidence
	}
	if text, ok := job.Conversation.Explanation(); ok {
		rec.Explanation = text
	}
	return rec
}

// Result rebuilds the AnalysisResult stored in the record.
func (r *AnalysisRecord) Result() AnalysisResult {
	res := AnalysisResult{
		AnalysisID:    r.ID,
		CellCounts:    r.CellCounts,
		Diseases:      []DiseaseFinding(r.Diseases),
		Abnormalities: []string(r.Abnormalities),
		Confidence:    r.Confidence,
		CreatedAt:     r.CreatedAt,
	}
	if res.Diseases == nil {
		res.Diseases = []DiseaseFinding{}
	}
	if res.Abnormalities == nil {
		res.Abnormalities = []string{}
	}
	return res
}

// FollowUpRecord is one persisted follow-up question and its answer.
type FollowUpRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AnalysisID string    `gorm:"type:text;not null;index:idx_follow_up_questions_analysis" json:"analysis_id"`
	Question   string    `gorm:"type:text;not null" json:"question"`
	Answer     string    `gorm:"type:text;not null" json:"answer"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for FollowUpRecord.
func (FollowUpRecord) TableName() string {
	return "follow_up_questions"
}

// DailyCount is the number of analyses archived on one calendar day.
type DailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// ArchiveStats summarizes the analysis archive.
type ArchiveStats struct {
	TotalAnalyses int64        `json:"total_analyses"`
	TotalFollowUp int64        `json:"total_follow_ups"`
	ByDay         []DailyCount `json:"by_day"`
}

// SimilarCase is a prior analysis close to a given cell-count profile.
type SimilarCase struct {
	AnalysisID string           `json:"analysis_id"`
	Score      float32          `json:"score"`
	Diseases   []DiseaseFinding `json:"diseases,omitempty"`
	CreatedAt  time.Time        `json:"created_at,omitempty"`
}
