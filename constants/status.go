package constants

// OutcomeStatus is the terminal classification of a validation task.
type OutcomeStatus string

// Stable values (stored as-is in task_outcomes.status).
const (
	OutcomeValid   OutcomeStatus = "VALID"
	OutcomeInvalid OutcomeStatus = "INVALID"
	OutcomeFailed  OutcomeStatus = "FAILED"
)

// FailureReason classifies why a task ended up FAILED, or why a side step did not succeed.
type FailureReason string

const (
	ReasonSpawnFailure       FailureReason = "SPAWN_FAILURE"       // tool could not be launched
	ReasonTimeout            FailureReason = "TIMEOUT"             // tool exceeded the per-task timeout
	ReasonNonZeroExit        FailureReason = "NON_ZERO_EXIT"       // tool ran but signaled failure
	ReasonArtifactMissing    FailureReason = "ARTIFACT_MISSING"    // no result.json in the workspace
	ReasonArtifactUnparsable FailureReason = "ARTIFACT_UNPARSABLE" // result.json is not a valid artifact
	ReasonPersistenceFailure FailureReason = "PERSISTENCE_FAILURE" // remote store unreachable or rejected
	ReasonCanceled           FailureReason = "CANCELED"            // run canceled while the task was in flight
	ReasonPanic              FailureReason = "PANIC"               // invoker panicked
)

// RunStatus is the lifecycle state of a row in runs.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusCanceled  RunStatus = "CANCELED"
	RunStatusFailed    RunStatus = "FAILED"
)
