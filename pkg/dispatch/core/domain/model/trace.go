package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TraceMessage is a single message within a trace item's conversation payload.
type TraceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TraceMessageList holds the ordered message payload of a trace item.
type TraceMessageList []TraceMessage

// Value implements the `driver.Valuer` interface, converting TraceMessageList to a JSON string.
func (ml TraceMessageList) Value() (driver.Value, error) {
	if ml == nil {
		return "[]", nil
	}
	data, err := json.Marshal(ml)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to TraceMessageList.
func (ml *TraceMessageList) Scan(value interface{}) error {
	if value == nil {
		*ml = make(TraceMessageList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for TraceMessageList: %T", value)
	}

	if len(b) == 0 {
		*ml = make(TraceMessageList, 0)
		return nil
	}

	if err := json.Unmarshal(b, ml); err != nil {
		return fmt.Errorf("failed to unmarshal TraceMessageList JSON: %w", err)
	}
	return nil
}

// ScopeItem is one checkable item of a scope: a trace identified by ID, carrying the
// message payload sent to the policy check endpoint.
type ScopeItem struct {
	ID       string
	Messages TraceMessageList
}

// Annotation is a per-item finding attached to a trace by a result handler.
type Annotation struct {
	ItemID string
	Key    string
	Value  interface{}
}

// AnalysisReport is the aggregate document produced by an analysis job.
type AnalysisReport struct {
	JobID     string
	ScopeID   string
	Summary   map[string]interface{}
	TotalCost float64
	CreatedAt time.Time
}

// GeneratedPolicy is a policy document produced by a synthesis job.
type GeneratedPolicy struct {
	JobID         string
	ScopeID       string
	Policy        string
	DetectionRate float64
	CreatedAt     time.Time
}
