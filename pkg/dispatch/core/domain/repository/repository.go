package repository

// JobRepository is the interface for persisting and managing dispatch records.
// It embeds multiple smaller repository interfaces to separate concerns.
type JobRepository interface {
	JobRecord   // Job record operations (definition in job_record.go)
	CheckResult // Policy check result operations (definition in check_result.go)

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
