package cache

import (
	"fmt"
)

// JobStatusKey scopes the cached status by dataset and owner so a hit always
// belongs to the caller's own job.
func JobStatusKey(scopeID, ownerID, jobID string) string {
	return fmt.Sprintf("dispatch:job:%s:%s:%s:status", scopeID, ownerID, jobID)
}
