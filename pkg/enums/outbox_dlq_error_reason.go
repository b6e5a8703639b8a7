package enums

// OutboxDLQErrorReason classifies why an outbox event was dead-lettered.
type OutboxDLQErrorReason string

const (
	DLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts_exceeded"
	DLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	DLQReasonUnknownEvent OutboxDLQErrorReason = "unknown_event_type"
)
