package syncengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/caldavsync/caldav-sync/internal/store"
)

// Result is the outcome of one sync run, mirrored into the
// persisted SyncLog by the engine's finalize step.
type Result struct {
	MappingID      string
	SyncLogID      string
	Direction      store.SyncDirection
	Status         store.SyncStatus
	Inserted       int
	Updated        int
	Deleted        int
	Errors         []string
	EventSummaries []string
	ChangeSummary  string
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Duration reports how long the run took.
func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// finalizeStatus derives the terminal SyncLog status from the error
// count relative to the total change count (§4.6 step 7): any errors
// alongside at least one success is a partial failure; errors with no
// successes is a full failure; no errors is success.
func finalizeStatus(applied, errCount int) store.SyncStatus {
	switch {
	case errCount == 0:
		return store.StatusSuccess
	case applied > 0:
		return store.StatusPartialFailure
	default:
		return store.StatusFailure
	}
}

// changeSummary renders a short human-readable description of what
// happened, truncating to the first three event titles the same way
// the original's _generate_change_summary does.
func changeSummary(titles []string, inserted, updated, deleted int) string {
	parts := make([]string, 0, 3)
	if inserted > 0 {
		parts = append(parts, fmt.Sprintf("%d inserted", inserted))
	}
	if updated > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", updated))
	}
	if deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", deleted))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	summary := strings.Join(parts, ", ")

	shown := titles
	more := 0
	if len(shown) > 3 {
		shown = titles[:3]
		more = len(titles) - 3
	}
	if len(shown) > 0 {
		summary += ": " + strings.Join(shown, ", ")
		if more > 0 {
			summary += fmt.Sprintf(" and %d more", more)
		}
	}
	return summary
}
