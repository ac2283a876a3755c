package monitor

// Status of one cycle invocation.
type Status string

const (
	// StatusPaused means the pause switch is on; nothing ran.
	StatusPaused Status = "paused"
	// StatusSkipped means the minimum interval since the last recorded
	// cycle has not elapsed yet.
	StatusSkipped Status = "skipped"
	// StatusFailed means the cycle ran but could not produce a main count.
	StatusFailed Status = "failed"
	// StatusCompleted means scrape, decision, fan-out and recording finished.
	StatusCompleted Status = "completed"
)

// Outcome is the structured result handed back to the trigger. It
// distinguishes "nothing happened" from "ran with errors" from "ran".
type Outcome struct {
	Status          Status    `json:"status"`
	WaitedSeconds   int       `json:"waitedSeconds,omitempty"`
	RequiredSeconds int       `json:"requiredSeconds,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Decision        *Decision `json:"decision,omitempty"`
	Notified        bool      `json:"notified"`
	NotifyErrors    []string  `json:"notifyErrors,omitempty"`
}

func pausedOutcome() Outcome {
	return Outcome{Status: StatusPaused}
}

func skippedOutcome(waited, required int) Outcome {
	return Outcome{Status: StatusSkipped, WaitedSeconds: waited, RequiredSeconds: required}
}

func failedOutcome(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}
