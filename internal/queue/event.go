// Package queue defines the domain events handed to the external
// notification service over the message broker, plus the publisher and the
// consumer that drains them.
package queue

// Queue names. Durable queues, declared idempotently by both sides.
const (
	EnrollmentConfirmedQueue = "enrollment.confirmed"
	LeadConvertedQueue       = "lead.converted"
)

// EnrollmentConfirmedEvent is published after an enrollment commits. It
// carries enough for a downstream notifier without querying the database.
type EnrollmentConfirmedEvent struct {
	EnrollmentID   uint64 `json:"enrollment_id"`
	UserID         uint64 `json:"user_id"`
	CycleID        uint64 `json:"cycle_id"`
	CycleName      string `json:"cycle_name"`
	PaymentStatus  string `json:"payment_status"`
	TotalPaidCents int64  `json:"total_paid_cents"`
	EnrolledAt     string `json:"enrolled_at"`
}

// LeadConvertedEvent is published after a lead-to-deal conversion commits.
type LeadConvertedEvent struct {
	LeadID      uint64 `json:"lead_id"`
	DealID      uint64 `json:"deal_id"`
	ProgramName string `json:"program_name"`
	AmountCents int64  `json:"amount_cents"`
	Stage       string `json:"stage"`
	ConvertedBy uint64 `json:"converted_by"`
	ConvertedAt string `json:"converted_at"`
}
