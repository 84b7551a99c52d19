package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/ports/secondary"
)

// In-memory ledger fakes. They reproduce the adapter contracts the services
// depend on: ErrDuplicate on a second live (task, kind) insert, ErrLostRace
// on a failed compare-and-swap, conditional headroom arithmetic on Reserve.

type memApprovalLedger struct {
	mu      sync.Mutex
	records map[string]*secondary.ApprovalRecord
	seq     int
}

func newMemApprovalLedger() *memApprovalLedger {
	return &memApprovalLedger{records: make(map[string]*secondary.ApprovalRecord)}
}

func (m *memApprovalLedger) Create(ctx context.Context, approval *secondary.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TaskID == approval.TaskID && r.Kind == approval.Kind && r.Status == secondary.ApprovalStatusPending {
			return secondary.ErrDuplicate
		}
	}
	// Like the sqlite adapter, stamp the caller's record: the services hand
	// the same record back to their callers after a successful insert.
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}
	approval.Status = secondary.ApprovalStatusPending
	clone := *approval
	m.records[clone.ID] = &clone
	return nil
}

func (m *memApprovalLedger) GetByID(ctx context.Context, id string) (*secondary.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, secondary.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memApprovalLedger) GetPendingByTaskKind(ctx context.Context, taskID, kind string) (*secondary.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TaskID == taskID && r.Kind == kind && r.Status == secondary.ApprovalStatusPending {
			clone := *r
			return &clone, nil
		}
	}
	return nil, secondary.ErrNotFound
}

func (m *memApprovalLedger) CompareAndSwapStatus(ctx context.Context, id, from, to, resolver, comment, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return secondary.ErrNotFound
	}
	if r.Status != from {
		return secondary.ErrLostRace
	}
	r.Status = to
	r.Resolver = resolver
	r.Comment = comment
	if reason != "" {
		r.Reason = reason
	}
	now := time.Now().UTC()
	r.ResolvedAt = &now
	return nil
}

func (m *memApprovalLedger) List(ctx context.Context, filters secondary.ApprovalFilters) ([]*secondary.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*secondary.ApprovalRecord
	for _, r := range m.records {
		if filters.ProjectID != "" && r.ProjectID != filters.ProjectID {
			continue
		}
		if filters.TaskID != "" && r.TaskID != filters.TaskID {
			continue
		}
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		if filters.Kind != "" && r.Kind != filters.Kind {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (m *memApprovalLedger) ListOverdue(ctx context.Context, now time.Time) ([]*secondary.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*secondary.ApprovalRecord
	for _, r := range m.records {
		if r.Status == secondary.ApprovalStatusPending && r.ExpiresAt.Before(now) {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memApprovalLedger) GetNextID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("APR-%03d", m.seq), nil
}

type memBudgetLedger struct {
	mu           sync.Mutex
	counters     map[string]*secondary.BudgetCounterRecord
	reservations map[string]*secondary.ReservationRecord
	seq          int
}

func newMemBudgetLedger() *memBudgetLedger {
	return &memBudgetLedger{
		counters:     make(map[string]*secondary.BudgetCounterRecord),
		reservations: make(map[string]*secondary.ReservationRecord),
	}
}

func counterKey(projectID, agentType string) string {
	return projectID + "/" + agentType
}

func (m *memBudgetLedger) GetOrCreate(ctx context.Context, projectID, agentType string, defaults secondary.BudgetDefaults) (*secondary.BudgetCounterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey(projectID, agentType)
	c, ok := m.counters[key]
	if !ok {
		c = &secondary.BudgetCounterRecord{
			ProjectID:            projectID,
			AgentType:            agentType,
			DailyTokenLimit:      defaults.DailyTokenLimit,
			DailyCostLimitMicros: defaults.DailyCostLimitMicros,
			SessionTokenLimit:    defaults.SessionTokenLimit,
			LastResetAt:          time.Now().UTC(),
		}
		m.counters[key] = c
	}
	clone := *c
	return &clone, nil
}

func (m *memBudgetLedger) Reserve(ctx context.Context, reservation *secondary.ReservationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey(reservation.ProjectID, reservation.AgentType)]
	if !ok {
		return secondary.ErrNotFound
	}
	tokensOK := c.DailyTokenLimit <= 0 ||
		c.TokensUsed+c.TokensReserved+reservation.Tokens <= c.DailyTokenLimit+c.OverrideTokens
	costOK := c.DailyCostLimitMicros <= 0 ||
		c.CostUsedMicros+c.CostReservedMicros+reservation.CostMicros <= c.DailyCostLimitMicros+c.OverrideCostMicros
	if !tokensOK || !costOK {
		return secondary.ErrInsufficientBudget
	}
	c.TokensReserved += reservation.Tokens
	c.CostReservedMicros += reservation.CostMicros
	clone := *reservation
	clone.State = secondary.ReservationStateHeld
	clone.CreatedAt = time.Now().UTC()
	m.reservations[clone.ID] = &clone
	return nil
}

func (m *memBudgetLedger) CommitReservation(ctx context.Context, reservationID string, actualTokens, actualCostMicros int64) error {
	return m.finalize(reservationID, secondary.ReservationStateCommitted, actualTokens, actualCostMicros)
}

func (m *memBudgetLedger) ReleaseReservation(ctx context.Context, reservationID string) error {
	return m.finalize(reservationID, secondary.ReservationStateReleased, 0, 0)
}

func (m *memBudgetLedger) finalize(reservationID, to string, actualTokens, actualCostMicros int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return secondary.ErrNotFound
	}
	if r.State != secondary.ReservationStateHeld {
		return secondary.ErrLostRace
	}
	c := m.counters[counterKey(r.ProjectID, r.AgentType)]
	c.TokensReserved -= r.Tokens
	c.CostReservedMicros -= r.CostMicros
	if c.TokensReserved < 0 {
		c.TokensReserved = 0
	}
	if c.CostReservedMicros < 0 {
		c.CostReservedMicros = 0
	}
	if to == secondary.ReservationStateCommitted {
		c.TokensUsed += actualTokens
		c.CostUsedMicros += actualCostMicros
	}
	r.State = to
	now := time.Now().UTC()
	r.FinalizedAt = &now
	return nil
}

func (m *memBudgetLedger) GetReservation(ctx context.Context, reservationID string) (*secondary.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return nil, secondary.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memBudgetLedger) ListReservationsByState(ctx context.Context, projectID, state string) ([]*secondary.ReservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*secondary.ReservationRecord
	for _, r := range m.reservations {
		if r.ProjectID == projectID && r.State == state {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memBudgetLedger) GrantOverride(ctx context.Context, projectID, agentType string, tokens, costMicros int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey(projectID, agentType)]
	if !ok {
		return secondary.ErrNotFound
	}
	c.OverrideTokens += tokens
	c.OverrideCostMicros += costMicros
	return nil
}

func (m *memBudgetLedger) SetLimits(ctx context.Context, projectID, agentType string, dailyTokens, dailyCostMicros, sessionTokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey(projectID, agentType)]
	if !ok {
		return secondary.ErrNotFound
	}
	c.DailyTokenLimit = dailyTokens
	c.DailyCostLimitMicros = dailyCostMicros
	c.SessionTokenLimit = sessionTokens
	return nil
}

func (m *memBudgetLedger) SetEmergencyTriggered(ctx context.Context, projectID, agentType string, triggered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[counterKey(projectID, agentType)]
	if !ok {
		return secondary.ErrNotFound
	}
	c.EmergencyTriggered = triggered
	return nil
}

func (m *memBudgetLedger) ResetDue(ctx context.Context, now time.Time, mode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset := 0
	for _, c := range m.counters {
		due := false
		switch mode {
		case config.ResetModeRolling:
			due = now.Sub(c.LastResetAt) >= 24*time.Hour
		default:
			due = now.UTC().Truncate(24 * time.Hour).After(c.LastResetAt.UTC().Truncate(24 * time.Hour))
		}
		if !due {
			continue
		}
		c.TokensUsed = 0
		c.CostUsedMicros = 0
		c.OverrideTokens = 0
		c.OverrideCostMicros = 0
		c.LastResetAt = now
		reset++
	}
	return reset, nil
}

func (m *memBudgetLedger) ListByProject(ctx context.Context, projectID string) ([]*secondary.BudgetCounterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*secondary.BudgetCounterRecord
	for _, c := range m.counters {
		if c.ProjectID == projectID {
			clone := *c
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentType < out[j].AgentType })
	return out, nil
}

func (m *memBudgetLedger) GetNextReservationID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("RSV-%03d", m.seq), nil
}

type memStopRepo struct {
	mu      sync.Mutex
	records map[string]*secondary.EmergencyStopRecord
	seq     int
}

func newMemStopRepo() *memStopRepo {
	return &memStopRepo{records: make(map[string]*secondary.EmergencyStopRecord)}
}

func (m *memStopRepo) Create(ctx context.Context, stop *secondary.EmergencyStopRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *stop
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	m.records[clone.ID] = &clone
	return nil
}

func (m *memStopRepo) GetByID(ctx context.Context, id string) (*secondary.EmergencyStopRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, secondary.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memStopRepo) GetActiveByProject(ctx context.Context, projectID string) (*secondary.EmergencyStopRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ProjectID == projectID && r.ResolvedAt == nil {
			clone := *r
			return &clone, nil
		}
	}
	return nil, secondary.ErrNotFound
}

func (m *memStopRepo) Resolve(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.ResolvedAt != nil {
		return secondary.ErrNotFound
	}
	now := time.Now().UTC()
	r.ResolvedAt = &now
	return nil
}

func (m *memStopRepo) List(ctx context.Context, projectID string) ([]*secondary.EmergencyStopRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*secondary.EmergencyStopRecord
	for _, r := range m.records {
		if r.ProjectID == projectID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStopRepo) GetNextID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("STOP-%03d", m.seq), nil
}

type memProjectRepo struct {
	mu      sync.Mutex
	records map[string]*secondary.ProjectRecord
	seq     int
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{records: make(map[string]*secondary.ProjectRecord)}
}

func (m *memProjectRepo) Create(ctx context.Context, project *secondary.ProjectRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *project
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	m.records[clone.ID] = &clone
	return nil
}

func (m *memProjectRepo) GetByID(ctx context.Context, id string) (*secondary.ProjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, secondary.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memProjectRepo) SetStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return secondary.ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *memProjectRepo) List(ctx context.Context) ([]*secondary.ProjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*secondary.ProjectRecord
	for _, r := range m.records {
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProjectRepo) GetNextID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("PRJ-%03d", m.seq), nil
}

type memRecoveryRepo struct {
	mu       sync.Mutex
	sessions map[string]*secondary.RecoverySessionRecord
	steps    map[string][]*secondary.RecoveryStepRecord
	seq      int
}

func newMemRecoveryRepo() *memRecoveryRepo {
	return &memRecoveryRepo{
		sessions: make(map[string]*secondary.RecoverySessionRecord),
		steps:    make(map[string][]*secondary.RecoveryStepRecord),
	}
}

func (m *memRecoveryRepo) CreateSession(ctx context.Context, session *secondary.RecoverySessionRecord, steps []*secondary.RecoveryStepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	m.sessions[clone.ID] = &clone
	stored := make([]*secondary.RecoveryStepRecord, len(steps))
	for i, step := range steps {
		sc := *step
		if sc.Approval == "" {
			sc.Approval = secondary.StepApprovalPending
		}
		if sc.State == "" {
			sc.State = secondary.StepStatePending
		}
		stored[i] = &sc
	}
	m.steps[clone.ID] = stored
	return nil
}

func (m *memRecoveryRepo) GetSession(ctx context.Context, id string) (*secondary.RecoverySessionRecord, []*secondary.RecoveryStepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, nil, secondary.ErrNotFound
	}
	sc := *session
	var steps []*secondary.RecoveryStepRecord
	for _, step := range m.steps[id] {
		clone := *step
		steps = append(steps, &clone)
	}
	return &sc, steps, nil
}

func (m *memRecoveryRepo) GetActiveByProject(ctx context.Context, projectID string) (*secondary.RecoverySessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.ProjectID != projectID {
			continue
		}
		if session.Status == secondary.RecoveryStatusCompleted || session.Status == secondary.RecoveryStatusAborted {
			continue
		}
		clone := *session
		return &clone, nil
	}
	return nil, secondary.ErrNotFound
}

func (m *memRecoveryRepo) UpdateSessionStatus(ctx context.Context, id, status string, currentStep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return secondary.ErrNotFound
	}
	session.Status = status
	session.CurrentStep = currentStep
	return nil
}

func (m *memRecoveryRepo) SetStepApproval(ctx context.Context, sessionID string, seq int, approval, approvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, step := range m.steps[sessionID] {
		if step.Seq != seq {
			continue
		}
		if step.Approval != secondary.StepApprovalPending {
			return secondary.ErrLostRace
		}
		step.Approval = approval
		step.ApprovedBy = approvedBy
		return nil
	}
	return secondary.ErrNotFound
}

func (m *memRecoveryRepo) SetStepState(ctx context.Context, sessionID string, seq int, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, step := range m.steps[sessionID] {
		if step.Seq != seq {
			continue
		}
		step.State = state
		now := time.Now().UTC()
		step.ExecutedAt = &now
		return nil
	}
	return secondary.ErrNotFound
}

func (m *memRecoveryRepo) GetNextID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("RSES-%03d", m.seq), nil
}

// memNotifier records delivered events for assertions.
type memNotifier struct {
	mu       sync.Mutex
	requests []secondary.ApprovalRequestedEvent
	alerts   []secondary.SafetyAlertEvent
}

func newMemNotifier() *memNotifier {
	return &memNotifier{}
}

func (m *memNotifier) NotifyApprovalRequested(ctx context.Context, event secondary.ApprovalRequestedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, event)
	return nil
}

func (m *memNotifier) NotifyAlert(ctx context.Context, event secondary.SafetyAlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, event)
	return nil
}

func (m *memNotifier) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *memNotifier) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// memLogWriter is a no-op audit writer.
type memLogWriter struct{}

func (memLogWriter) LogCreate(ctx context.Context, entityType, entityID string) error {
	return nil
}

func (memLogWriter) LogUpdate(ctx context.Context, entityType, entityID, fieldName, oldValue, newValue string) error {
	return nil
}

func (memLogWriter) LogEvent(ctx context.Context, entityType, entityID, event string) error {
	return nil
}

// testConfig returns a config with every default applied.
func testConfig() *config.Config {
	return config.Default()
}

// Interface checks for the fakes
var (
	_ secondary.ApprovalLedger          = (*memApprovalLedger)(nil)
	_ secondary.BudgetLedger            = (*memBudgetLedger)(nil)
	_ secondary.EmergencyStopRepository = (*memStopRepo)(nil)
	_ secondary.ProjectRepository       = (*memProjectRepo)(nil)
	_ secondary.RecoveryRepository      = (*memRecoveryRepo)(nil)
	_ secondary.Notifier                = (*memNotifier)(nil)
	_ secondary.LogWriter               = memLogWriter{}
)
