package models

// DeadLetterReason represents why a wake-up was sent to the DLQ
type DeadLetterReason string

const (
	DLQReasonMaxRetries     DeadLetterReason = "max_retries_exceeded"
	DLQReasonInvalidMessage DeadLetterReason = "invalid_message"
	DLQReasonUnknown        DeadLetterReason = "unknown"
)
