/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatcher

import (
	"context"

	"github.com/acronis/go-docdispatch/internal/resultcache"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

// State is the dispatcher-side lifecycle state of a work item, used in
// logs and metrics.
type State string

// Work item states.
const (
	StateReceived         State = "Received"
	StateAdmissionPending State = "AdmissionPending"
	StateAdmitted         State = "Admitted"
	StateDispatched       State = "Dispatched"
	StateSucceeded        State = "Succeeded"
	StateFailed           State = "Failed"
	StateDeadLettered     State = "DeadLettered"
)

// SubUnitProcessor performs the actual per-sub-unit work (e.g. per-page
// classification) when the dispatcher executes jobs directly instead of
// handing them off to the workflow engine. Implementations call external
// inference endpoints; they should mark throttling and transient failures
// with invoke.Transient and permanently broken input with invoke.Fatal.
type SubUnitProcessor interface {
	// ListSubUnits enumerates the individually processable pieces of the job.
	ListSubUnits(ctx context.Context, msg workqueue.Message) ([]string, error)

	// ProcessSubUnit computes the result of a single sub-unit.
	ProcessSubUnit(ctx context.Context, msg workqueue.Message, subID string) (resultcache.SubResult, error)
}
