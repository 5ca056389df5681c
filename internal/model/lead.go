package model

import "time"

// Lead statuses, in lifecycle order. A lead leaves the pipeline either by
// deletion or by conversion, which forces closed_won.
const (
	LeadNew         = "new"
	LeadContacted   = "contacted"
	LeadInterested  = "interested"
	LeadNegotiating = "negotiating"
	LeadClosedWon   = "closed_won"
	LeadClosedLost  = "closed_lost"
)

// Lead is a sales prospect. Phone is unique across leads.
type Lead struct {
	ID                uint64     `json:"id"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Email             *string    `json:"email,omitempty"`
	Phone             string     `json:"phone"`
	Source            string     `json:"source"`
	Status            string     `json:"status"`
	InterestedProgram *string    `json:"interested_program,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	AssignedTo        *uint64    `json:"assigned_to,omitempty"`
	NextFollowUp      *time.Time `json:"next_follow_up,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LeadClosed reports whether status is a terminal pipeline state.
func LeadClosed(status string) bool {
	return status == LeadClosedWon || status == LeadClosedLost
}

// LeadPatch carries a partial lead update.
type LeadPatch struct {
	FirstName         Field[string]     `json:"first_name"`
	LastName          Field[string]     `json:"last_name"`
	Email             Field[*string]    `json:"email"`
	Phone             Field[string]     `json:"phone"`
	Source            Field[string]     `json:"source"`
	Status            Field[string]     `json:"status"`
	InterestedProgram Field[*string]    `json:"interested_program"`
	Notes             Field[*string]    `json:"notes"`
	AssignedTo        Field[*uint64]    `json:"assigned_to"`
	NextFollowUp      Field[*time.Time] `json:"next_follow_up"`
}

// Deal is created from a lead at conversion, in the same unit of work that
// flips the lead to closed_won. AssignedTo is copied from the lead.
type Deal struct {
	ID                uint64     `json:"id"`
	LeadID            uint64     `json:"lead_id"`
	ProgramName       string     `json:"program_name"`
	AmountCents       int64      `json:"amount_cents"`
	Stage             string     `json:"stage"`
	AssignedTo        *uint64    `json:"assigned_to,omitempty"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// LeadActivity is an append-only audit row. Activities are never updated
// or deleted.
type LeadActivity struct {
	ID           uint64    `json:"id"`
	LeadID       uint64    `json:"lead_id"`
	UserID       *uint64   `json:"user_id,omitempty"`
	ActivityType string    `json:"activity_type"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// LeadStats is the cached aggregate for the leads dashboard.
type LeadStats struct {
	TotalLeads      int64 `json:"total_leads"`
	NewLeads        int64 `json:"new_leads"`
	ContactedLeads  int64 `json:"contacted_leads"`
	InterestedLeads int64 `json:"interested_leads"`
	Negotiating     int64 `json:"negotiating_leads"`
	ClosedWon       int64 `json:"closed_won"`
	ClosedLost      int64 `json:"closed_lost"`
	LeadsThisWeek   int64 `json:"leads_this_week"`
	LeadsThisMonth  int64 `json:"leads_this_month"`
}
