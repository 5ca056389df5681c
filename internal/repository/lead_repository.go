package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/clubops/training-ops/internal/model"
)

const leadCols = "id, first_name, last_name, email, phone, source, status, interested_program, notes, assigned_to, next_follow_up, created_at, updated_at"

// LeadRepo persists leads, deals and the append-only activity trail.
type LeadRepo struct{ DB *sql.DB }

func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{DB: db} }

// LeadFilter narrows List results.
type LeadFilter struct {
	Status     string
	Source     string
	AssignedTo uint64
	Search     string // matches name, email or phone
	SortBy     string
	SortDesc   bool
	Page       int
	Limit      int
}

// ConvertInput is the payload of a lead-to-deal conversion.
type ConvertInput struct {
	ProgramName       string
	AmountCents       int64
	Stage             string
	ExpectedCloseDate *time.Time
	Notes             *string
}

// Create inserts a new lead and its first audit row in one unit of work.
// Phone is unique across leads.
func (r *LeadRepo) Create(ctx context.Context, l model.Lead, actingUserID uint64) (model.Lead, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Lead{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO leads (first_name, last_name, email, phone, source, interested_program, notes, assigned_to, status) VALUES (?,?,?,?,?,?,?,?,?)",
		l.FirstName, l.LastName, l.Email, l.Phone, l.Source, l.InterestedProgram, l.Notes, l.AssignedTo, model.LeadNew)
	if err != nil {
		if isDuplicate(err) {
			return model.Lead{}, ErrPhoneExists
		}
		return model.Lead{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Lead{}, err
	}
	if err := insertActivityTx(ctx, tx, uint64(id), actingUserID, "note", "Lead created"); err != nil {
		return model.Lead{}, err
	}
	lead, err := getLeadTx(ctx, tx, uint64(id))
	if err != nil {
		return model.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Lead{}, err
	}
	committed = true
	return lead, nil
}

// GetByID fetches a lead.
func (r *LeadRepo) GetByID(ctx context.Context, id uint64) (model.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx,
		"SELECT "+leadCols+" FROM leads WHERE id=? LIMIT 1", id))
}

// List returns a page of leads plus the total for the filter. Sort columns
// are whitelisted; anything else falls back to created_at.
func (r *LeadRepo) List(ctx context.Context, f LeadFilter) ([]model.Lead, int64, error) {
	where := "WHERE 1=1"
	args := make([]interface{}, 0, 6)
	if f.Status != "" {
		where += " AND status=?"
		args = append(args, f.Status)
	}
	if f.Source != "" {
		where += " AND source=?"
		args = append(args, f.Source)
	}
	if f.AssignedTo != 0 {
		where += " AND assigned_to=?"
		args = append(args, f.AssignedTo)
	}
	if f.Search != "" {
		where += " AND (first_name LIKE ? OR last_name LIKE ? OR email LIKE ? OR phone LIKE ?)"
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat, pat, pat)
	}

	var total int64
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM leads "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol := "created_at"
	switch f.SortBy {
	case "first_name", "last_name", "status", "created_at":
		sortCol = f.SortBy
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	page, limit := normalizePage(f.Page, f.Limit)
	args = append(args, limit, (page-1)*limit)
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+leadCols+" FROM leads "+where+" ORDER BY "+sortCol+" "+dir+" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Lead, 0, limit)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// Update applies a partial update and appends an audit row in the same unit
// of work.
func (r *LeadRepo) Update(ctx context.Context, id uint64, p model.LeadPatch, actingUserID uint64) (model.Lead, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Lead{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := getLeadTx(ctx, tx, id); err != nil {
		return model.Lead{}, err
	}

	sets := make([]string, 0, 11)
	args := make([]interface{}, 0, 11)
	add := func(col string, present bool, v interface{}) {
		if present {
			sets = append(sets, col+"=?")
			args = append(args, v)
		}
	}
	add("first_name", p.FirstName.Present(), p.FirstName.Value())
	add("last_name", p.LastName.Present(), p.LastName.Value())
	add("email", p.Email.Present(), p.Email.Value())
	add("phone", p.Phone.Present(), p.Phone.Value())
	add("source", p.Source.Present(), p.Source.Value())
	add("status", p.Status.Present(), p.Status.Value())
	add("interested_program", p.InterestedProgram.Present(), p.InterestedProgram.Value())
	add("notes", p.Notes.Present(), p.Notes.Value())
	add("assigned_to", p.AssignedTo.Present(), p.AssignedTo.Value())
	add("next_follow_up", p.NextFollowUp.Present(), p.NextFollowUp.Value())

	if len(sets) > 0 {
		sets = append(sets, "updated_at=UTC_TIMESTAMP()")
		args = append(args, id)
		if _, err := tx.ExecContext(ctx,
			"UPDATE leads SET "+strings.Join(sets, ", ")+" WHERE id=?", args...); err != nil {
			if isDuplicate(err) {
				return model.Lead{}, ErrPhoneExists
			}
			return model.Lead{}, err
		}
		if err := insertActivityTx(ctx, tx, id, actingUserID, "note", "Lead updated"); err != nil {
			return model.Lead{}, err
		}
	}
	lead, err := getLeadTx(ctx, tx, id)
	if err != nil {
		return model.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Lead{}, err
	}
	committed = true
	return lead, nil
}

// Delete removes a lead.
func (r *LeadRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM leads WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddActivity appends one audit row. Activities are never mutated.
func (r *LeadRepo) AddActivity(ctx context.Context, leadID, userID uint64, activityType, description string) (model.LeadActivity, error) {
	var exists uint64
	err := r.DB.QueryRowContext(ctx,
		"SELECT id FROM leads WHERE id=? LIMIT 1", leadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return model.LeadActivity{}, ErrNotFound
	}
	if err != nil {
		return model.LeadActivity{}, err
	}

	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO lead_activities (lead_id, user_id, activity_type, description) VALUES (?,?,?,?)",
		leadID, userID, activityType, description)
	if err != nil {
		return model.LeadActivity{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.LeadActivity{}, err
	}
	return r.getActivity(ctx, uint64(id))
}

// Activities lists a lead's audit trail, newest first.
func (r *LeadRepo) Activities(ctx context.Context, leadID uint64) ([]model.LeadActivity, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, lead_id, user_id, activity_type, description, created_at FROM lead_activities WHERE lead_id=? ORDER BY created_at DESC",
		leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.LeadActivity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Convert turns a lead into a deal as one unit of work: the deal insert, the
// closed_won flip and the audit row all land together or not at all. The
// lead row is locked for the duration so two concurrent conversions cannot
// both pass the closed check. A lead that already left the pipeline is
// rejected with ErrLeadClosed; assigned_to is copied from the lead, not from
// the acting user.
func (r *LeadRepo) Convert(ctx context.Context, leadID uint64, in ConvertInput, actingUserID uint64) (model.Deal, error) {
	if in.Stage == "" {
		in.Stage = "proposal"
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Deal{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		status     string
		assignedTo sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT status, assigned_to FROM leads WHERE id=? FOR UPDATE", leadID).Scan(&status, &assignedTo)
	if err == sql.ErrNoRows {
		return model.Deal{}, ErrNotFound
	}
	if err != nil {
		return model.Deal{}, err
	}
	if model.LeadClosed(status) {
		return model.Deal{}, ErrLeadClosed
	}

	var leadAssignee interface{}
	if assignedTo.Valid {
		leadAssignee = assignedTo.Int64
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO deals (lead_id, program_name, amount_cents, stage, assigned_to, expected_close_date, notes) VALUES (?,?,?,?,?,?,?)",
		leadID, in.ProgramName, in.AmountCents, in.Stage, leadAssignee, in.ExpectedCloseDate, in.Notes)
	if err != nil {
		return model.Deal{}, err
	}
	dealID, err := res.LastInsertId()
	if err != nil {
		return model.Deal{}, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE leads SET status=?, updated_at=UTC_TIMESTAMP() WHERE id=?",
		model.LeadClosedWon, leadID); err != nil {
		return model.Deal{}, err
	}
	if err := insertActivityTx(ctx, tx, leadID, actingUserID, "note", "Lead converted to deal"); err != nil {
		return model.Deal{}, err
	}

	deal, err := getDealTx(ctx, tx, uint64(dealID))
	if err != nil {
		return model.Deal{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Deal{}, err
	}
	committed = true
	return deal, nil
}

// Stats computes the leads dashboard aggregate.
func (r *LeadRepo) Stats(ctx context.Context) (model.LeadStats, error) {
	var s model.LeadStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'new' THEN 1 END),
		       COUNT(CASE WHEN status = 'contacted' THEN 1 END),
		       COUNT(CASE WHEN status = 'interested' THEN 1 END),
		       COUNT(CASE WHEN status = 'negotiating' THEN 1 END),
		       COUNT(CASE WHEN status = 'closed_won' THEN 1 END),
		       COUNT(CASE WHEN status = 'closed_lost' THEN 1 END),
		       COUNT(CASE WHEN created_at > UTC_TIMESTAMP() - INTERVAL 7 DAY THEN 1 END),
		       COUNT(CASE WHEN created_at > UTC_TIMESTAMP() - INTERVAL 30 DAY THEN 1 END)
		FROM leads`).Scan(&s.TotalLeads, &s.NewLeads, &s.ContactedLeads,
		&s.InterestedLeads, &s.Negotiating, &s.ClosedWon, &s.ClosedLost,
		&s.LeadsThisWeek, &s.LeadsThisMonth)
	if err != nil {
		return model.LeadStats{}, err
	}
	return s, nil
}

func insertActivityTx(ctx context.Context, tx *sql.Tx, leadID, userID uint64, activityType, description string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO lead_activities (lead_id, user_id, activity_type, description) VALUES (?,?,?,?)",
		leadID, userID, activityType, description)
	return err
}

func getLeadTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Lead, error) {
	return scanLead(tx.QueryRowContext(ctx,
		"SELECT "+leadCols+" FROM leads WHERE id=? LIMIT 1", id))
}

func getDealTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Deal, error) {
	var (
		d          model.Deal
		assignedTo sql.NullInt64
		closeDate  sql.NullTime
		notes      sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		"SELECT id, lead_id, program_name, amount_cents, stage, assigned_to, expected_close_date, notes, created_at FROM deals WHERE id=?",
		id).Scan(&d.ID, &d.LeadID, &d.ProgramName, &d.AmountCents, &d.Stage,
		&assignedTo, &closeDate, &notes, &d.CreatedAt)
	if err != nil {
		return model.Deal{}, err
	}
	if assignedTo.Valid {
		v := uint64(assignedTo.Int64)
		d.AssignedTo = &v
	}
	if closeDate.Valid {
		v := closeDate.Time
		d.ExpectedCloseDate = &v
	}
	if notes.Valid {
		v := notes.String
		d.Notes = &v
	}
	return d, nil
}

func (r *LeadRepo) getActivity(ctx context.Context, id uint64) (model.LeadActivity, error) {
	return scanActivity(r.DB.QueryRowContext(ctx,
		"SELECT id, lead_id, user_id, activity_type, description, created_at FROM lead_activities WHERE id=?", id))
}

func scanActivity(row scanner) (model.LeadActivity, error) {
	var (
		a      model.LeadActivity
		userID sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.LeadID, &userID, &a.ActivityType, &a.Description, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return model.LeadActivity{}, ErrNotFound
	}
	if err != nil {
		return model.LeadActivity{}, err
	}
	if userID.Valid {
		v := uint64(userID.Int64)
		a.UserID = &v
	}
	return a, nil
}

func scanLead(row scanner) (model.Lead, error) {
	var (
		l          model.Lead
		email      sql.NullString
		program    sql.NullString
		notes      sql.NullString
		assignedTo sql.NullInt64
		followUp   sql.NullTime
	)
	err := row.Scan(&l.ID, &l.FirstName, &l.LastName, &email, &l.Phone, &l.Source,
		&l.Status, &program, &notes, &assignedTo, &followUp, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Lead{}, ErrNotFound
	}
	if err != nil {
		return model.Lead{}, err
	}
	if email.Valid {
		v := email.String
		l.Email = &v
	}
	if program.Valid {
		v := program.String
		l.InterestedProgram = &v
	}
	if notes.Valid {
		v := notes.String
		l.Notes = &v
	}
	if assignedTo.Valid {
		v := uint64(assignedTo.Int64)
		l.AssignedTo = &v
	}
	if followUp.Valid {
		v := followUp.Time
		l.NextFollowUp = &v
	}
	return l, nil
}
