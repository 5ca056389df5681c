package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/clubops/training-ops/internal/model"
)

const cycleCols = "id, program_id, name, start_date, end_date, status, max_students, current_students, notes, created_at, updated_at"

// CycleRepo persists cycles and enrollments.
type CycleRepo struct{ DB *sql.DB }

func NewCycleRepo(db *sql.DB) *CycleRepo { return &CycleRepo{DB: db} }

// CycleFilter narrows List results. Zero values mean "no filter".
type CycleFilter struct {
	Status    string
	ProgramID uint64
	Page      int
	Limit     int
}

// Create inserts a planned cycle and returns the stored row.
func (r *CycleRepo) Create(ctx context.Context, programID uint64, name string, start, end time.Time, maxStudents *uint32, notes *string) (model.Cycle, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO cycles (program_id, name, start_date, end_date, max_students, notes, status) VALUES (?,?,?,?,?,?,?)",
		programID, name, start, end, maxStudents, notes, model.CyclePlanned)
	if err != nil {
		return model.Cycle{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Cycle{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID fetches a cycle.
func (r *CycleRepo) GetByID(ctx context.Context, id uint64) (model.Cycle, error) {
	return scanCycle(r.DB.QueryRowContext(ctx,
		"SELECT "+cycleCols+" FROM cycles WHERE id=? LIMIT 1", id))
}

// List returns a page of cycles ordered by start date descending, plus the
// total count for the filter.
func (r *CycleRepo) List(ctx context.Context, f CycleFilter) ([]model.Cycle, int64, error) {
	where := "WHERE 1=1"
	args := make([]interface{}, 0, 4)
	if f.Status != "" {
		where += " AND status=?"
		args = append(args, f.Status)
	}
	if f.ProgramID != 0 {
		where += " AND program_id=?"
		args = append(args, f.ProgramID)
	}

	var total int64
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cycles "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(f.Page, f.Limit)
	args = append(args, limit, (page-1)*limit)
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+cycleCols+" FROM cycles "+where+" ORDER BY start_date DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Cycle, 0, limit)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Update applies a partial update. Present-null clears max_students/notes.
func (r *CycleRepo) Update(ctx context.Context, id uint64, p model.CyclePatch) (model.Cycle, error) {
	sets := make([]string, 0, 7)
	args := make([]interface{}, 0, 7)
	if p.Name.Present() {
		sets = append(sets, "name=?")
		args = append(args, p.Name.Value())
	}
	if p.StartDate.Present() {
		sets = append(sets, "start_date=?")
		args = append(args, p.StartDate.Value().Time)
	}
	if p.EndDate.Present() {
		sets = append(sets, "end_date=?")
		args = append(args, p.EndDate.Value().Time)
	}
	if p.Status.Present() {
		sets = append(sets, "status=?")
		args = append(args, p.Status.Value())
	}
	if p.MaxStudents.Present() {
		sets = append(sets, "max_students=?")
		args = append(args, p.MaxStudents.Value())
	}
	if p.Notes.Present() {
		sets = append(sets, "notes=?")
		args = append(args, p.Notes.Value())
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}
	sets = append(sets, "updated_at=UTC_TIMESTAMP()")
	args = append(args, id)
	if _, err := r.DB.ExecContext(ctx,
		"UPDATE cycles SET "+strings.Join(sets, ", ")+" WHERE id=?", args...); err != nil {
		return model.Cycle{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes a cycle. Cycles with existing enrollments are protected;
// the check and the delete share a transaction so a concurrent enrollment
// cannot slip between them.
func (r *CycleRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var enrolled int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE cycle_id=?", id).Scan(&enrolled); err != nil {
		return err
	}
	if enrolled > 0 {
		return ErrConflict
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM cycles WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Enroll adds a student to a cycle as one unit of work. The seat is taken
// with a conditional increment of current_students, never with a
// read-then-insert: two concurrent calls for the last seat resolve to one
// success and one ErrCycleFull regardless of interleaving. The unique
// (user_id, cycle_id) key rejects duplicates, and the rollback that follows
// also undoes the seat increment.
func (r *CycleRepo) Enroll(ctx context.Context, cycleID, userID uint64, paymentStatus string, totalPaidCents int64, notes *string) (model.Enrollment, error) {
	if paymentStatus == "" {
		paymentStatus = "pending"
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Enrollment{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE cycles SET current_students = current_students + 1, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND (max_students IS NULL OR current_students < max_students)`,
		cycleID)
	if err != nil {
		return model.Enrollment{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Enrollment{}, err
	}
	if n == 0 {
		// No seat was taken: either the cycle is full or it does not
		// exist. Disambiguate inside the same transaction.
		var id uint64
		err := tx.QueryRowContext(ctx, "SELECT id FROM cycles WHERE id=?", cycleID).Scan(&id)
		if err == sql.ErrNoRows {
			return model.Enrollment{}, ErrNotFound
		}
		if err != nil {
			return model.Enrollment{}, err
		}
		return model.Enrollment{}, ErrCycleFull
	}

	ins, err := tx.ExecContext(ctx,
		"INSERT INTO enrollments (user_id, cycle_id, status, payment_status, total_paid_cents, notes) VALUES (?,?,?,?,?,?)",
		userID, cycleID, model.EnrollmentActive, paymentStatus, totalPaidCents, notes)
	if err != nil {
		if isDuplicate(err) {
			return model.Enrollment{}, ErrAlreadyEnrolled
		}
		return model.Enrollment{}, err
	}
	enrollmentID, err := ins.LastInsertId()
	if err != nil {
		return model.Enrollment{}, err
	}

	var (
		e           model.Enrollment
		enrollNotes sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, user_id, cycle_id, status, payment_status, total_paid_cents, notes, enrolled_at FROM enrollments WHERE id=?",
		enrollmentID).Scan(&e.ID, &e.UserID, &e.CycleID, &e.Status, &e.PaymentStatus, &e.TotalPaidCents, &enrollNotes, &e.EnrolledAt)
	if err != nil {
		return model.Enrollment{}, err
	}
	if enrollNotes.Valid {
		e.Notes = &enrollNotes.String
	}
	if err := tx.Commit(); err != nil {
		return model.Enrollment{}, err
	}
	committed = true
	return e, nil
}

// UpdateEnrollment applies a partial bookkeeping update to one enrollment of
// a cycle. It never touches the seat counter.
func (r *CycleRepo) UpdateEnrollment(ctx context.Context, cycleID, enrollmentID uint64, p model.EnrollmentPatch) (model.Enrollment, error) {
	if _, err := r.getEnrollment(ctx, cycleID, enrollmentID); err != nil {
		return model.Enrollment{}, err
	}
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)
	if p.Status.Present() {
		sets = append(sets, "status=?")
		args = append(args, p.Status.Value())
	}
	if p.PaymentStatus.Present() {
		sets = append(sets, "payment_status=?")
		args = append(args, p.PaymentStatus.Value())
	}
	if p.TotalPaidCents.Present() {
		sets = append(sets, "total_paid_cents=?")
		args = append(args, p.TotalPaidCents.Value())
	}
	if p.Notes.Present() {
		sets = append(sets, "notes=?")
		args = append(args, p.Notes.Value())
	}
	if len(sets) > 0 {
		args = append(args, enrollmentID, cycleID)
		if _, err := r.DB.ExecContext(ctx,
			"UPDATE enrollments SET "+strings.Join(sets, ", ")+" WHERE id=? AND cycle_id=?", args...); err != nil {
			return model.Enrollment{}, err
		}
	}
	return r.getEnrollment(ctx, cycleID, enrollmentID)
}

func (r *CycleRepo) getEnrollment(ctx context.Context, cycleID, enrollmentID uint64) (model.Enrollment, error) {
	var (
		e     model.Enrollment
		notes sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, cycle_id, status, payment_status, total_paid_cents, notes, enrolled_at FROM enrollments WHERE id=? AND cycle_id=? LIMIT 1",
		enrollmentID, cycleID).Scan(&e.ID, &e.UserID, &e.CycleID, &e.Status,
		&e.PaymentStatus, &e.TotalPaidCents, &notes, &e.EnrolledAt)
	if err == sql.ErrNoRows {
		return model.Enrollment{}, ErrNotFound
	}
	if err != nil {
		return model.Enrollment{}, err
	}
	if notes.Valid {
		v := notes.String
		e.Notes = &v
	}
	return e, nil
}

// RemoveStudent deletes an enrollment and frees its seat in one unit of work.
func (r *CycleRepo) RemoveStudent(ctx context.Context, cycleID, enrollmentID uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM enrollments WHERE id=? AND cycle_id=?", enrollmentID, cycleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE cycles SET current_students = current_students - 1, updated_at = UTC_TIMESTAMP() WHERE id=? AND current_students > 0",
		cycleID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Students returns the roster of a cycle, newest enrollment first.
func (r *CycleRepo) Students(ctx context.Context, cycleID uint64) ([]model.EnrolledStudent, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT e.id, e.user_id, e.cycle_id, e.status, e.payment_status, e.total_paid_cents, e.notes, e.enrolled_at,
		        u.first_name, u.last_name, u.email, u.phone
		 FROM enrollments e
		 JOIN users u ON u.id = e.user_id
		 WHERE e.cycle_id = ?
		 ORDER BY e.enrolled_at DESC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.EnrolledStudent, 0)
	for rows.Next() {
		var (
			s     model.EnrolledStudent
			notes sql.NullString
			phone sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.CycleID, &s.Status, &s.PaymentStatus,
			&s.TotalPaidCents, &notes, &s.EnrolledAt,
			&s.FirstName, &s.LastName, &s.Email, &phone); err != nil {
			return nil, err
		}
		if notes.Valid {
			v := notes.String
			s.Notes = &v
		}
		if phone.Valid {
			v := phone.String
			s.Phone = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upcoming returns the next ten planned or active cycles starting today or
// later.
func (r *CycleRepo) Upcoming(ctx context.Context) ([]model.Cycle, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+cycleCols+` FROM cycles
		 WHERE start_date >= CURDATE() AND status IN (?,?)
		 ORDER BY start_date ASC LIMIT 10`,
		model.CyclePlanned, model.CycleActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Cycle, 0, 10)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats computes the cycles dashboard aggregate. Read-only, no concurrency
// hazard; callers cache the result.
func (r *CycleRepo) Stats(ctx context.Context) (model.CycleStats, error) {
	var (
		s   model.CycleStats
		avg sql.NullFloat64
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'active' THEN 1 END),
		       COUNT(CASE WHEN status = 'planned' THEN 1 END),
		       COUNT(CASE WHEN status = 'completed' THEN 1 END),
		       (SELECT COUNT(*) FROM enrollments WHERE status = 'active'),
		       (SELECT AVG(current_students) FROM cycles WHERE status = 'active')
		FROM cycles`).Scan(&s.TotalCycles, &s.ActiveCycles, &s.PlannedCycles,
		&s.CompletedCycles, &s.ActiveStudents, &avg)
	if err != nil {
		return model.CycleStats{}, err
	}
	if avg.Valid {
		s.AvgStudentsPerCycle = avg.Float64
	}
	return s, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row scanner) (model.Cycle, error) {
	var (
		c           model.Cycle
		maxStudents sql.NullInt64
		notes       sql.NullString
	)
	err := row.Scan(&c.ID, &c.ProgramID, &c.Name, &c.StartDate, &c.EndDate,
		&c.Status, &maxStudents, &c.CurrentStudents, &notes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Cycle{}, ErrNotFound
	}
	if err != nil {
		return model.Cycle{}, err
	}
	if maxStudents.Valid {
		v := uint32(maxStudents.Int64)
		c.MaxStudents = &v
	}
	if notes.Valid {
		v := notes.String
		c.Notes = &v
	}
	return c, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
