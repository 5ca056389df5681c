package model

import "time"

// Cycle statuses.
const (
	CyclePlanned   = "planned"
	CycleActive    = "active"
	CycleCompleted = "completed"
)

// Cycle is one scheduled offering of a program. CurrentStudents is a
// denormalized counter kept in step with the enrollments table by the
// enrollment transaction; it never exceeds MaxStudents when that is set.
type Cycle struct {
	ID              uint64    `json:"id"`
	ProgramID       uint64    `json:"program_id"`
	Name            string    `json:"name"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Status          string    `json:"status"`
	MaxStudents     *uint32   `json:"max_students,omitempty"`
	CurrentStudents uint32    `json:"current_students"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CyclePatch carries a partial cycle update. MaxStudents and Notes are
// nullable columns, so a present null clears them. Dates accept the same
// date-only form the create endpoint takes.
type CyclePatch struct {
	Name        Field[string]  `json:"name"`
	StartDate   Field[Date]    `json:"start_date"`
	EndDate     Field[Date]    `json:"end_date"`
	Status      Field[string]  `json:"status"`
	MaxStudents Field[*uint32] `json:"max_students"`
	Notes       Field[*string] `json:"notes"`
}

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentDropped   = "dropped"
)

// Enrollment joins a user to a cycle. (UserID, CycleID) is unique.
type Enrollment struct {
	ID             uint64    `json:"id"`
	UserID         uint64    `json:"user_id"`
	CycleID        uint64    `json:"cycle_id"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	TotalPaidCents int64     `json:"total_paid_cents"`
	Notes          *string   `json:"notes,omitempty"`
	EnrolledAt     time.Time `json:"enrolled_at"`
}

// EnrollmentPatch carries a partial enrollment update: bookkeeping fields
// only. Seat accounting stays with Enroll and RemoveStudent.
type EnrollmentPatch struct {
	Status         Field[string]  `json:"status"`
	PaymentStatus  Field[string]  `json:"payment_status"`
	TotalPaidCents Field[int64]   `json:"total_paid_cents"`
	Notes          Field[*string] `json:"notes"`
}

// EnrolledStudent is an enrollment row joined with the student's identity,
// returned by the cycle roster endpoint.
type EnrolledStudent struct {
	Enrollment
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
}

// CycleStats is the cached aggregate for the cycles dashboard.
type CycleStats struct {
	TotalCycles         int64   `json:"total_cycles"`
	ActiveCycles        int64   `json:"active_cycles"`
	PlannedCycles       int64   `json:"planned_cycles"`
	CompletedCycles     int64   `json:"completed_cycles"`
	ActiveStudents      int64   `json:"total_active_students"`
	AvgStudentsPerCycle float64 `json:"avg_students_per_cycle"`
}
