package handler

// In-memory stores used by the handler tests. They reproduce the atomicity
// contracts of the SQL layer (conditional seat take, single-winner token
// rotation, locked conversion) under a mutex so concurrency tests exercise
// the same guarantees the handlers rely on in production.

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/clubops/training-ops/internal/model"
	"github.com/clubops/training-ops/internal/repository"
	"github.com/clubops/training-ops/internal/utils"
)

// ---- users ----

type memUserStore struct {
	mu     sync.Mutex
	seq    uint64
	users  map[uint64]model.User
	tokens *memTokenStore // password change revokes sessions, like the SQL store

	// forced transport failures, standing in for a dead database
	getByEmailErr error
	getByIDErr    error
}

func newMemUserStore(tokens *memTokenStore) *memUserStore {
	return &memUserStore{users: make(map[uint64]model.User), tokens: tokens}
}

func (s *memUserStore) Create(_ context.Context, email, password, firstName, lastName string, phone *string, role string, cost int) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return model.User{}, repository.ErrEmailExists
		}
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}
	if role == "" {
		role = model.RoleStudent
	}
	s.seq++
	now := time.Now().UTC()
	u := model.User{
		ID: s.seq, Email: email, PasswordHash: hash,
		FirstName: firstName, LastName: lastName, Phone: phone,
		Role: role, Status: model.UserActive, CreatedAt: now, UpdatedAt: now,
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getByEmailErr != nil {
		return model.User{}, s.getByEmailErr
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getByIDErr != nil {
		return model.User{}, s.getByIDErr
	}
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) UpdateProfile(_ context.Context, id uint64, p model.UserPatch) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	if p.FirstName.Present() {
		u.FirstName = p.FirstName.Value()
	}
	if p.LastName.Present() {
		u.LastName = p.LastName.Value()
	}
	if p.Phone.Present() {
		u.Phone = p.Phone.Value()
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *memUserStore) ChangePassword(ctx context.Context, id uint64, newHash string) error {
	s.mu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return repository.ErrNotFound
	}
	u.PasswordHash = newHash
	s.users[id] = u
	s.mu.Unlock()
	if s.tokens != nil {
		return s.tokens.DeleteAllForUser(ctx, id)
	}
	return nil
}

func (s *memUserStore) UpdateLastLogin(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	u.LastLogin = &now
	s.users[id] = u
	return nil
}

func (s *memUserStore) setStatus(id uint64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Status = status
	s.users[id] = u
}

// ---- tokens ----

type tokenRow struct {
	userID uint64
	exp    time.Time
}

type memTokenStore struct {
	mu   sync.Mutex
	rows map[string]tokenRow
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{rows: make(map[string]tokenRow)}
}

func (s *memTokenStore) Store(_ context.Context, userID uint64, token string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[token] = tokenRow{userID: userID, exp: exp}
	return nil
}

func (s *memTokenStore) Delete(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[token]
	delete(s.rows, token)
	return ok, nil
}

func (s *memTokenStore) DeleteAllForUser(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, row := range s.rows {
		if row.userID == userID {
			delete(s.rows, tok)
		}
	}
	return nil
}

// Rotate mirrors the SQL transaction: the retire and the insert happen under
// one lock, and a missing or foreign old token loses.
func (s *memTokenStore) Rotate(_ context.Context, userID uint64, oldToken, newToken string, newExp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[oldToken]
	if !ok || row.userID != userID || !row.exp.After(time.Now().UTC()) {
		return repository.ErrInvalidToken
	}
	delete(s.rows, oldToken)
	s.rows[newToken] = tokenRow{userID: userID, exp: newExp}
	return nil
}

func (s *memTokenStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// ---- cycles ----

type memCycleStore struct {
	mu          sync.Mutex
	seq         uint64
	cycles      map[uint64]model.Cycle
	enrollments map[uint64]model.Enrollment
	statsCalls  int
}

func newMemCycleStore() *memCycleStore {
	return &memCycleStore{
		cycles:      make(map[uint64]model.Cycle),
		enrollments: make(map[uint64]model.Enrollment),
	}
}

func (s *memCycleStore) addCycle(maxStudents *uint32) model.Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	c := model.Cycle{
		ID: s.seq, ProgramID: 1, Name: "Spring Bootcamp",
		StartDate: now.AddDate(0, 1, 0), EndDate: now.AddDate(0, 3, 0),
		Status: model.CyclePlanned, MaxStudents: maxStudents,
		CreatedAt: now, UpdatedAt: now,
	}
	s.cycles[c.ID] = c
	return c
}

func (s *memCycleStore) Create(_ context.Context, programID uint64, name string, start, end time.Time, maxStudents *uint32, notes *string) (model.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	c := model.Cycle{
		ID: s.seq, ProgramID: programID, Name: name,
		StartDate: start, EndDate: end, Status: model.CyclePlanned,
		MaxStudents: maxStudents, Notes: notes, CreatedAt: now, UpdatedAt: now,
	}
	s.cycles[c.ID] = c
	return c, nil
}

func (s *memCycleStore) GetByID(_ context.Context, id uint64) (model.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return model.Cycle{}, repository.ErrNotFound
	}
	return c, nil
}

func (s *memCycleStore) List(_ context.Context, f repository.CycleFilter) ([]model.Cycle, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Cycle, 0, len(s.cycles))
	for _, c := range s.cycles {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.ProgramID != 0 && c.ProgramID != f.ProgramID {
			continue
		}
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (s *memCycleStore) Update(_ context.Context, id uint64, p model.CyclePatch) (model.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return model.Cycle{}, repository.ErrNotFound
	}
	if p.Name.Present() {
		c.Name = p.Name.Value()
	}
	if p.StartDate.Present() {
		c.StartDate = p.StartDate.Value().Time
	}
	if p.EndDate.Present() {
		c.EndDate = p.EndDate.Value().Time
	}
	if p.Status.Present() {
		c.Status = p.Status.Value()
	}
	if p.MaxStudents.Present() {
		c.MaxStudents = p.MaxStudents.Value()
	}
	if p.Notes.Present() {
		c.Notes = p.Notes.Value()
	}
	c.UpdatedAt = time.Now().UTC()
	s.cycles[id] = c
	return c, nil
}

func (s *memCycleStore) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.CurrentStudents > 0 {
		return repository.ErrConflict
	}
	delete(s.cycles, id)
	return nil
}

// Enroll mirrors the SQL transaction: the seat take, the duplicate check and
// the insert are a single atomic step.
func (s *memCycleStore) Enroll(_ context.Context, cycleID, userID uint64, paymentStatus string, totalPaidCents int64, notes *string) (model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[cycleID]
	if !ok {
		return model.Enrollment{}, repository.ErrNotFound
	}
	for _, e := range s.enrollments {
		if e.CycleID == cycleID && e.UserID == userID {
			return model.Enrollment{}, repository.ErrAlreadyEnrolled
		}
	}
	if c.MaxStudents != nil && c.CurrentStudents >= *c.MaxStudents {
		return model.Enrollment{}, repository.ErrCycleFull
	}
	if paymentStatus == "" {
		paymentStatus = "pending"
	}
	c.CurrentStudents++
	s.cycles[cycleID] = c
	s.seq++
	e := model.Enrollment{
		ID: s.seq, UserID: userID, CycleID: cycleID,
		Status: "active", PaymentStatus: paymentStatus,
		TotalPaidCents: totalPaidCents, Notes: notes,
		EnrolledAt: time.Now().UTC(),
	}
	s.enrollments[e.ID] = e
	return e, nil
}

func (s *memCycleStore) UpdateEnrollment(_ context.Context, cycleID, enrollmentID uint64, p model.EnrollmentPatch) (model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[enrollmentID]
	if !ok || e.CycleID != cycleID {
		return model.Enrollment{}, repository.ErrNotFound
	}
	if p.Status.Present() {
		e.Status = p.Status.Value()
	}
	if p.PaymentStatus.Present() {
		e.PaymentStatus = p.PaymentStatus.Value()
	}
	if p.TotalPaidCents.Present() {
		e.TotalPaidCents = p.TotalPaidCents.Value()
	}
	if p.Notes.Present() {
		e.Notes = p.Notes.Value()
	}
	s.enrollments[enrollmentID] = e
	return e, nil
}

func (s *memCycleStore) RemoveStudent(_ context.Context, cycleID, enrollmentID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[enrollmentID]
	if !ok || e.CycleID != cycleID {
		return repository.ErrNotFound
	}
	delete(s.enrollments, enrollmentID)
	c := s.cycles[cycleID]
	if c.CurrentStudents > 0 {
		c.CurrentStudents--
	}
	s.cycles[cycleID] = c
	return nil
}

func (s *memCycleStore) Students(_ context.Context, cycleID uint64) ([]model.EnrolledStudent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EnrolledStudent, 0)
	for _, e := range s.enrollments {
		if e.CycleID == cycleID {
			out = append(out, model.EnrolledStudent{Enrollment: e})
		}
	}
	return out, nil
}

func (s *memCycleStore) Upcoming(_ context.Context) ([]model.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Cycle, 0)
	for _, c := range s.cycles {
		if c.Status == model.CyclePlanned || c.Status == model.CycleActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCycleStore) Stats(_ context.Context) (model.CycleStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	return model.CycleStats{TotalCycles: int64(len(s.cycles))}, nil
}

// ---- leads ----

type memLeadStore struct {
	mu         sync.Mutex
	seq        uint64
	leads      map[uint64]model.Lead
	deals      map[uint64]model.Deal
	activities []model.LeadActivity
	convertErr error // forced failure for atomicity tests
	statsCalls int
}

func newMemLeadStore() *memLeadStore {
	return &memLeadStore{
		leads: make(map[uint64]model.Lead),
		deals: make(map[uint64]model.Deal),
	}
}

func (s *memLeadStore) addLead(status string, assignedTo *uint64) model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	l := model.Lead{
		ID: s.seq, FirstName: "Dana", LastName: "Levi",
		Phone: "050000" + time.Now().Format("0405"), Source: "website",
		Status: status, AssignedTo: assignedTo, CreatedAt: now, UpdatedAt: now,
	}
	s.leads[l.ID] = l
	return l
}

func (s *memLeadStore) Create(_ context.Context, l model.Lead, actingUserID uint64) (model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.leads {
		if existing.Phone == l.Phone {
			return model.Lead{}, repository.ErrPhoneExists
		}
	}
	s.seq++
	now := time.Now().UTC()
	l.ID = s.seq
	l.Status = model.LeadNew
	l.CreatedAt = now
	l.UpdatedAt = now
	s.leads[l.ID] = l
	s.appendActivity(l.ID, actingUserID, "note", "Lead created")
	return l, nil
}

func (s *memLeadStore) GetByID(_ context.Context, id uint64) (model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return model.Lead{}, repository.ErrNotFound
	}
	return l, nil
}

func (s *memLeadStore) List(_ context.Context, f repository.LeadFilter) ([]model.Lead, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, l)
	}
	return out, int64(len(out)), nil
}

func (s *memLeadStore) Update(_ context.Context, id uint64, p model.LeadPatch, actingUserID uint64) (model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return model.Lead{}, repository.ErrNotFound
	}
	if p.Status.Present() {
		l.Status = p.Status.Value()
	}
	if p.Notes.Present() {
		l.Notes = p.Notes.Value()
	}
	if p.AssignedTo.Present() {
		l.AssignedTo = p.AssignedTo.Value()
	}
	l.UpdatedAt = time.Now().UTC()
	s.leads[id] = l
	s.appendActivity(id, actingUserID, "note", "Lead updated")
	return l, nil
}

func (s *memLeadStore) Delete(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.leads, id)
	return nil
}

func (s *memLeadStore) AddActivity(_ context.Context, leadID, userID uint64, activityType, description string) (model.LeadActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[leadID]; !ok {
		return model.LeadActivity{}, repository.ErrNotFound
	}
	return s.appendActivity(leadID, userID, activityType, description), nil
}

func (s *memLeadStore) Activities(_ context.Context, leadID uint64) ([]model.LeadActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LeadActivity, 0)
	for _, a := range s.activities {
		if a.LeadID == leadID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Convert mirrors the SQL transaction: the closed check, the deal insert,
// the status flip and the audit row land atomically. A forced convertErr
// leaves every structure untouched, like a rollback.
func (s *memLeadStore) Convert(_ context.Context, leadID uint64, in repository.ConvertInput, actingUserID uint64) (model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return model.Deal{}, repository.ErrNotFound
	}
	if model.LeadClosed(l.Status) {
		return model.Deal{}, repository.ErrLeadClosed
	}
	if s.convertErr != nil {
		return model.Deal{}, s.convertErr
	}
	stage := in.Stage
	if stage == "" {
		stage = "proposal"
	}
	s.seq++
	d := model.Deal{
		ID: s.seq, LeadID: leadID, ProgramName: in.ProgramName,
		AmountCents: in.AmountCents, Stage: stage,
		AssignedTo: l.AssignedTo, ExpectedCloseDate: in.ExpectedCloseDate,
		Notes: in.Notes, CreatedAt: time.Now().UTC(),
	}
	s.deals[d.ID] = d
	l.Status = model.LeadClosedWon
	s.leads[leadID] = l
	s.appendActivity(leadID, actingUserID, "note", "Lead converted to deal")
	return d, nil
}

func (s *memLeadStore) Stats(_ context.Context) (model.LeadStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	return model.LeadStats{TotalLeads: int64(len(s.leads))}, nil
}

func (s *memLeadStore) appendActivity(leadID, userID uint64, activityType, description string) model.LeadActivity {
	s.seq++
	a := model.LeadActivity{
		ID: s.seq, LeadID: leadID, ActivityType: activityType,
		Description: description, CreatedAt: time.Now().UTC(),
	}
	if userID != 0 {
		a.UserID = &userID
	}
	s.activities = append(s.activities, a)
	return a
}

// ---- cache and publish doubles ----

// recordingCache tracks cache traffic so tests can assert on read-through
// and invalidation behavior. Entries live in memory with no TTL.
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string][]byte)}
}

func (c *recordingCache) GetJSON(_ context.Context, key string, dest interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (c *recordingCache) SetJSON(_ context.Context, key string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if raw, err := json.Marshal(v); err == nil {
		c.entries[key] = raw
	}
}

func (c *recordingCache) Invalidate(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.invalidated = append(c.invalidated, keys...)
}

func (c *recordingCache) invalidations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

// publishRecorder captures events instead of dialing a broker.
type publishRecorder struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	queue string
	event interface{}
}

func (p *publishRecorder) publish(_ context.Context, queueName string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{queue: queueName, event: event})
	return nil
}

func (p *publishRecorder) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}
