package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	logger "github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/serialization"

	"github.com/google/uuid"
)

// JobStatus represents the state of a tracked job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal checks if the JobStatus represents a terminal state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a raw status string (as reported by a remote system) into a
// JobStatus. Unknown values are returned as-is so callers can log them.
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch JobStatus(strings.ToUpper(raw)) {
	case JobStatusPending:
		return JobStatusPending, true
	case JobStatusRunning:
		return JobStatusRunning, true
	case JobStatusCompleted:
		return JobStatusCompleted, true
	case JobStatusFailed:
		return JobStatusFailed, true
	case JobStatusCancelled:
		return JobStatusCancelled, true
	default:
		return JobStatus(raw), false
	}
}

// JobKind identifies what a job does and which result handler applies on completion.
type JobKind string

const (
	// JobKindAnalysis is a remote-delegated trace analysis job.
	JobKindAnalysis JobKind = "analysis"
	// JobKindPolicySynthesis is a remote-delegated policy synthesis job.
	JobKindPolicySynthesis JobKind = "policy_synthesis"
	// JobKindPolicyCheck is a locally executed policy check over a scope of items.
	JobKindPolicyCheck JobKind = "policy_check"
)

// String returns the string representation of the JobKind.
func (k JobKind) String() string {
	return string(k)
}

// CheckParameters is a key-value map of parameters attached to a policy check.
type CheckParameters map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the CheckParameters to a JSON string.
func (cp CheckParameters) Value() (driver.Value, error) {
	if cp == nil {
		return "{}", nil
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to CheckParameters.
func (cp *CheckParameters) Scan(value interface{}) error {
	if value == nil {
		*cp = make(CheckParameters)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for CheckParameters: %T", value)
	}

	if len(b) == 0 {
		*cp = make(CheckParameters)
		return nil
	}

	if err := json.Unmarshal(b, cp); err != nil {
		return fmt.Errorf("failed to unmarshal CheckParameters JSON: %w", err)
	}
	return nil
}

// NewCheckParameters creates a new empty CheckParameters.
func NewCheckParameters() CheckParameters {
	return make(CheckParameters)
}

// Put sets a value in the CheckParameters with the specified key and value.
func (cp CheckParameters) Put(key string, value interface{}) {
	cp[key] = value
}

// Get retrieves the value for the specified key. Returns nil and false if the value does not exist.
func (cp CheckParameters) Get(key string) (interface{}, bool) {
	val, ok := cp[key]
	return val, ok
}

// GetString retrieves the value for the specified key as a string.
func (cp CheckParameters) GetString(key string) (string, bool) {
	val, ok := cp[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
func (cp CheckParameters) GetInt(key string) (int, bool) {
	val, ok := cp[key]
	if !ok {
		return 0, false
	}
	// Handle numbers unmarshaled from JSON which might be float64
	if i, ok := val.(int); ok {
		return i, true
	}
	if f, ok := val.(float64); ok {
		return int(f), true
	}
	return 0, false
}

// GetBool retrieves the value for the specified key as a bool.
func (cp CheckParameters) GetBool(key string) (bool, bool) {
	val, ok := cp[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetFloat64 retrieves the value for the specified key as a float64.
func (cp CheckParameters) GetFloat64(key string) (float64, bool) {
	val, ok := cp[key]
	if !ok {
		return 0.0, false
	}
	f, ok := val.(float64)
	return f, ok
}

// Copy creates a shallow copy of the CheckParameters.
func (cp CheckParameters) Copy() CheckParameters {
	newCP := make(CheckParameters, len(cp))
	for k, v := range cp {
		newCP[k] = v
	}
	return newCP
}

// Equal compares if two CheckParameters are equal.
func (cp CheckParameters) Equal(other CheckParameters) bool {
	return reflect.DeepEqual(map[string]interface{}(cp), map[string]interface{}(other))
}

// Hash calculates the hash value of CheckParameters. It converts parameters to a
// canonical JSON string before hashing to ensure order independence.
func (cp CheckParameters) Hash() (string, error) {
	normalizedJSON, err := cp.toCanonicalJSON()
	if err != nil {
		return "", exception.NewDispatchError("check_parameters", "Failed to marshal CheckParameters to canonical JSON for hash calculation", err, false)
	}

	hasher := sha256.New()
	hasher.Write([]byte(normalizedJSON))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// toCanonicalJSON converts CheckParameters to a canonical JSON string with sorted keys.
func (cp CheckParameters) toCanonicalJSON() (string, error) {
	var marshalCanonical func(interface{}) ([]byte, error)
	marshalCanonical = func(val interface{}) ([]byte, error) {
		if m, ok := val.(map[string]interface{}); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var sb strings.Builder
			sb.WriteString("{")
			for i, k := range keys {
				v := m[k]
				keyBytes, err := json.Marshal(k)
				if err != nil {
					return nil, err
				}
				valBytes, err := marshalCanonical(v)
				if err != nil {
					return nil, err
				}
				sb.Write(keyBytes)
				sb.WriteString(":")
				sb.Write(valBytes)
				if i < len(keys)-1 {
					sb.WriteString(",")
				}
			}
			sb.WriteString("}")
			return []byte(sb.String()), nil
		}
		return json.Marshal(val)
	}

	jsonBytes, err := marshalCanonical(map[string]interface{}(cp))
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// String returns the string representation of CheckParameters. Sensitive information is masked.
func (cp CheckParameters) String() string {
	maskedParams := serialization.GetMaskedParametersMap(cp)

	data, err := json.Marshal(maskedParams)
	if err != nil {
		return fmt.Sprintf("{[ERROR: Failed to marshal masked parameters: %v]}", err)
	}

	return string(data)
}

// ItemIDList holds a list of item IDs.
type ItemIDList []string

// Value implements the `driver.Valuer` interface, converting ItemIDList to a JSON string.
func (il ItemIDList) Value() (driver.Value, error) {
	if il == nil {
		return "[]", nil
	}
	data, err := json.Marshal(il)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to ItemIDList.
func (il *ItemIDList) Scan(value interface{}) error {
	if value == nil {
		*il = make(ItemIDList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ItemIDList: %T", value)
	}

	if len(b) == 0 {
		*il = make(ItemIDList, 0)
		return nil
	}

	if err := json.Unmarshal(b, il); err != nil {
		return fmt.Errorf("failed to unmarshal ItemIDList JSON: %w", err)
	}
	return nil
}

// ItemError records a per-item failure observed while checking a scope item.
type ItemError struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// ErrorItemList holds the per-item failures of a policy check.
type ErrorItemList []ItemError

// Value implements the `driver.Valuer` interface, converting ErrorItemList to a JSON string.
func (el ErrorItemList) Value() (driver.Value, error) {
	if el == nil {
		return "[]", nil
	}
	data, err := json.Marshal(el)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to ErrorItemList.
func (el *ErrorItemList) Scan(value interface{}) error {
	if value == nil {
		*el = make(ErrorItemList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ErrorItemList: %T", value)
	}

	if len(b) == 0 {
		*el = make(ErrorItemList, 0)
		return nil
	}

	if err := json.Unmarshal(b, el); err != nil {
		return fmt.Errorf("failed to unmarshal ErrorItemList JSON: %w", err)
	}
	return nil
}

// Job is the local record of a unit of background work, either delegated to a remote
// system or executed by the local check engine. Jobs are scoped to a dataset and owner.
type Job struct {
	ID          string
	OwnerID     string
	ScopeID     string
	Kind        JobKind
	Status      JobStatus
	Endpoint    string
	RemoteJobID string

	// NumProcessed and NumTotal track progress. NumProcessed never decreases.
	NumProcessed int
	NumTotal     int

	// SecretMaterial is the bearer credential presented to the job's endpoint.
	// It is never included in sanitized copies.
	SecretMaterial string
	// SessionCookie is the alternative forwarded-cookie credential. Also never exposed.
	SessionCookie string

	// Policy and Parameters carry the check payload for policy_check jobs.
	Policy     string
	Parameters CheckParameters

	ErrorMessage string

	// TerminalObservations counts how many times a poll observed this job in a remote
	// FAILED state. The record is removed on the third observation.
	TerminalObservations int

	CreatedAt   time.Time
	CompletedAt *time.Time
	LastUpdated time.Time

	// Version supports optimistic concurrency on writes.
	Version int
}

// NewJob creates a new Job in PENDING state.
func NewJob(ownerID, scopeID string, kind JobKind, endpoint string) *Job {
	now := time.Now()
	return &Job{
		ID:          NewID(),
		OwnerID:     ownerID,
		ScopeID:     scopeID,
		Kind:        kind,
		Status:      JobStatusPending,
		Endpoint:    endpoint,
		Parameters:  NewCheckParameters(),
		CreatedAt:   now,
		LastUpdated: now,
		Version:     0,
	}
}

// NewPolicyCheckJob creates a new policy check Job. The total item count is fixed at
// creation and never changes afterwards.
func NewPolicyCheckJob(ownerID, scopeID, policy string, params CheckParameters, totalItems int) *Job {
	job := NewJob(ownerID, scopeID, JobKindPolicyCheck, "")
	job.Policy = policy
	if params != nil {
		job.Parameters = params.Copy()
	}
	job.NumTotal = totalItems
	return job
}

// isValidJobTransition checks if the state transition for a Job is valid.
func isValidJobTransition(current, next JobStatus) bool {
	switch current {
	case JobStatusPending:
		// A pending job may start running, or jump straight to any terminal state
		// when the remote finishes (or fails) between polls.
		return next == JobStatusRunning || next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return false // Cannot transition directly from terminal states
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Job. Note: Fields other than Status
// and LastUpdated must be set separately by the caller.
func (j *Job) TransitionTo(newStatus JobStatus) error {
	if !isValidJobTransition(j.Status, newStatus) {
		return fmt.Errorf("Job (ID: %s): Invalid state transition: %s -> %s", j.ID, j.Status, newStatus)
	}
	j.Status = newStatus
	j.LastUpdated = time.Now()
	return nil
}

// MarkAsRunning updates the Job status to RUNNING.
func (j *Job) MarkAsRunning() {
	if j.Status == JobStatusRunning {
		return
	}
	if err := j.TransitionTo(JobStatusRunning); err != nil {
		logger.Warnf("Could not update Job (ID: %s) status to RUNNING: %v", j.ID, err)
		j.Status = JobStatusRunning
	}
	j.LastUpdated = time.Now()
}

// MarkAsCompleted updates the Job status to COMPLETED and stamps the completion time.
func (j *Job) MarkAsCompleted() {
	if err := j.TransitionTo(JobStatusCompleted); err != nil {
		logger.Warnf("Could not update Job (ID: %s) status to COMPLETED: %v", j.ID, err)
		j.Status = JobStatusCompleted
	}
	now := time.Now()
	j.CompletedAt = &now
	j.LastUpdated = now
}

// MarkAsFailed updates the Job status to FAILED and records the error message.
func (j *Job) MarkAsFailed(err error) {
	if terr := j.TransitionTo(JobStatusFailed); terr != nil {
		logger.Warnf("Could not update Job (ID: %s) status to FAILED: %v", j.ID, terr)
		j.Status = JobStatusFailed
	}
	now := time.Now()
	j.CompletedAt = &now
	j.LastUpdated = now
	if err != nil {
		j.ErrorMessage = exception.ExtractErrorMessage(err)
	}
}

// MarkAsCancelled updates the Job status to CANCELLED.
func (j *Job) MarkAsCancelled() {
	if err := j.TransitionTo(JobStatusCancelled); err != nil {
		logger.Warnf("Could not update Job (ID: %s) status to CANCELLED: %v", j.ID, err)
		j.Status = JobStatusCancelled
	}
	now := time.Now()
	j.CompletedAt = &now
	j.LastUpdated = now
}

// RecordProgress updates the progress counters from a remote observation. Processed
// counts are monotonic: a smaller observation than the current one is ignored.
func (j *Job) RecordProgress(processed, total int) {
	if total > 0 && j.NumTotal != total {
		j.NumTotal = total
	}
	if processed > j.NumProcessed {
		j.NumProcessed = processed
		j.LastUpdated = time.Now()
	}
}

// ObserveTerminalFailure increments the count of polls that saw this job in a remote
// FAILED state and returns the new count.
func (j *Job) ObserveTerminalFailure() int {
	j.TerminalObservations++
	j.LastUpdated = time.Now()
	return j.TerminalObservations
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// DeepCopy creates a deep copy of the Job.
func (j *Job) DeepCopy() *Job {
	if j == nil {
		return nil
	}
	copied := *j
	copied.Parameters = j.Parameters.Copy()
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}

// Sanitized returns a deep copy of the Job with all secret material stripped. Every
// job handed to a caller goes through this.
func (j *Job) Sanitized() *Job {
	copied := j.DeepCopy()
	copied.SecretMaterial = ""
	copied.SessionCookie = ""
	return copied
}

// DebugString returns a debug string representation of the Job, excluding secret material.
func (j *Job) DebugString() string {
	completedStr := "nil"
	if j.CompletedAt != nil {
		completedStr = j.CompletedAt.Format(time.RFC3339Nano)
	}

	return fmt.Sprintf(
		"&{ID:%s OwnerID:%s ScopeID:%s Kind:%s Status:%s Endpoint:%s RemoteJobID:%s NumProcessed:%d NumTotal:%d TerminalObservations:%d CreatedAt:%s CompletedAt:%s Version:%d}",
		j.ID, j.OwnerID, j.ScopeID, j.Kind, j.Status, j.Endpoint, j.RemoteJobID,
		j.NumProcessed, j.NumTotal, j.TerminalObservations,
		j.CreatedAt.Format(time.RFC3339Nano), completedStr, j.Version,
	)
}

// PolicyCheckResult accumulates the outcome of a policy check job. Triggered item IDs
// are append-only; the triggered count is always recomputed from the distinct ID list.
type PolicyCheckResult struct {
	JobID            string
	ScopeID          string
	TriggeredItemIDs ItemIDList
	TriggeredCount   int
	ErrorItems       ErrorItemList
	TotalItems       int
	CompletedAt      *time.Time
	LastUpdated      time.Time

	// Version supports optimistic concurrency on writes.
	Version int
}

// NewPolicyCheckResult creates an empty result record for a check job.
func NewPolicyCheckResult(jobID, scopeID string, totalItems int) *PolicyCheckResult {
	return &PolicyCheckResult{
		JobID:            jobID,
		ScopeID:          scopeID,
		TriggeredItemIDs: make(ItemIDList, 0),
		ErrorItems:       make(ErrorItemList, 0),
		TotalItems:       totalItems,
		LastUpdated:      time.Now(),
		Version:          0,
	}
}

// AppendBatch merges one batch worth of outcomes into the result. Triggered IDs are
// deduplicated against the existing list and the count is recomputed from it.
func (r *PolicyCheckResult) AppendBatch(triggered []string, errItems []ItemError) {
	if len(triggered) > 0 {
		seen := make(map[string]struct{}, len(r.TriggeredItemIDs))
		for _, id := range r.TriggeredItemIDs {
			seen[id] = struct{}{}
		}
		for _, id := range triggered {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			r.TriggeredItemIDs = append(r.TriggeredItemIDs, id)
		}
	}
	r.TriggeredCount = len(r.TriggeredItemIDs)
	if len(errItems) > 0 {
		r.ErrorItems = append(r.ErrorItems, errItems...)
	}
	r.LastUpdated = time.Now()
}

// Finalize stamps the completion time. Called exactly once, when the check finishes.
func (r *PolicyCheckResult) Finalize() {
	now := time.Now()
	r.CompletedAt = &now
	r.LastUpdated = now
}

// DeepCopy creates a deep copy of the PolicyCheckResult.
func (r *PolicyCheckResult) DeepCopy() *PolicyCheckResult {
	if r == nil {
		return nil
	}
	copied := *r
	copied.TriggeredItemIDs = make(ItemIDList, len(r.TriggeredItemIDs))
	copy(copied.TriggeredItemIDs, r.TriggeredItemIDs)
	copied.ErrorItems = make(ErrorItemList, len(r.ErrorItems))
	copy(copied.ErrorItems, r.ErrorItems)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
