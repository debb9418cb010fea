package incident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
)

type fakeIncidentStore struct {
	incidents  map[string]*domain.Incident
	openByRule map[string]*domain.Incident
	updateErr  error
	touched    []string
	updates    []domain.IncidentStatus
}

func (f *fakeIncidentStore) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inc, nil
}

func (f *fakeIncidentStore) FindOpenByRule(_ context.Context, ruleID string) (*domain.Incident, error) {
	return f.openByRule[ruleID], nil
}

func (f *fakeIncidentStore) CreateIncident(_ context.Context, inc *domain.Incident) (string, error) {
	inc.IncidentID = "inc-new"
	inc.Status = domain.IncidentOpen
	inc.Version = 1
	if f.incidents == nil {
		f.incidents = map[string]*domain.Incident{}
	}
	f.incidents[inc.IncidentID] = inc
	return inc.IncidentID, nil
}

func (f *fakeIncidentStore) UpdateStatus(_ context.Context, id string, expectedVersion int, status domain.IncidentStatus, _ *string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	inc := f.incidents[id]
	if inc.Version != expectedVersion {
		return domain.ErrConflict
	}
	f.updates = append(f.updates, status)
	return nil
}

func (f *fakeIncidentStore) TouchLastOccurrence(_ context.Context, id string, _ time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeEventStore struct {
	events []*domain.IncidentEvent
}

func (f *fakeEventStore) AppendEvent(_ context.Context, e *domain.IncidentEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEventStore) types() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventType
	}
	return out
}

type fakeRuleSource struct {
	rules map[string]*domain.Rule
}

func (f *fakeRuleSource) GetRule(_ context.Context, ruleID string) (*domain.Rule, error) {
	r, ok := f.rules[ruleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

type fakeQueue struct {
	enqueued []struct {
		ruleID string
		origin *string
	}
}

func (f *fakeQueue) Enqueue(_ context.Context, ruleID string, origin *string, _ time.Time) (string, error) {
	f.enqueued = append(f.enqueued, struct {
		ruleID string
		origin *string
	}{ruleID, origin})
	return "q-1", nil
}

type fakeNotifier struct {
	requests []*domain.NotificationRequest
	err      error
}

func (f *fakeNotifier) Dispatch(_ context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DispatchResult{Matched: 1, Delivered: 1}, nil
}

type fakeAuditStore struct {
	actions []string
}

func (f *fakeAuditStore) Append(_ context.Context, _, action, _, _ string) error {
	f.actions = append(f.actions, action)
	return nil
}

type fixture struct {
	store    *fakeIncidentStore
	events   *fakeEventStore
	rules    *fakeRuleSource
	queue    *fakeQueue
	notifier *fakeNotifier
	audits   *fakeAuditStore
	manager  *Manager
}

func newFixture() *fixture {
	f := &fixture{
		store:    &fakeIncidentStore{incidents: map[string]*domain.Incident{}, openByRule: map[string]*domain.Incident{}},
		events:   &fakeEventStore{},
		rules:    &fakeRuleSource{rules: map[string]*domain.Rule{"r1": violationRule()}},
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		audits:   &fakeAuditStore{},
	}
	f.manager = NewManager(f.store, f.events, f.rules, f.queue, f.notifier,
		audit.NewLogger(f.audits, zap.NewNop()), nil, zap.NewNop())
	return f
}

func violationRule() *domain.Rule {
	role := "operator"
	return &domain.Rule{
		RuleID:     "r1",
		Name:       "stuck jobs",
		Threshold:  3,
		Priority:   "high",
		NotifyRole: &role,
	}
}

func violationExec(count int) *domain.Execution {
	return &domain.Execution{
		ExecutionID: "exec-1",
		RuleID:      "r1",
		FinishedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:      domain.ExecutionSuccess,
		ResultCount: &count,
	}
}

func TestHandleViolation_OpensIncidentAndNotifies(t *testing.T) {
	f := newFixture()

	err := f.manager.HandleViolation(context.Background(), violationRule(), violationExec(5), nil)
	require.NoError(t, err)

	inc := f.store.incidents["inc-new"]
	require.NotNil(t, inc)
	assert.Equal(t, domain.IncidentOpen, inc.Status)
	assert.Equal(t, "high", inc.Priority)
	assert.Contains(t, inc.Details, "matched 5 rows")

	assert.Equal(t, []string{domain.IncidentEventOpen}, f.events.types())
	assert.Equal(t, []string{"INCIDENT_OPEN"}, f.audits.actions)
	require.Len(t, f.notifier.requests, 1)
	assert.Equal(t, "operator", *f.notifier.requests[0].TargetRole)
	assert.Equal(t, domain.ChannelPush, f.notifier.requests[0].Channel)
}

func TestHandleViolation_DedupIntoOpenIncident(t *testing.T) {
	f := newFixture()
	open := &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentOpen, Version: 1}
	f.store.incidents["inc-1"] = open
	f.store.openByRule["r1"] = open

	err := f.manager.HandleViolation(context.Background(), violationRule(), violationExec(5), nil)
	require.NoError(t, err)

	// 不创建新事故，不重复通知
	assert.NotContains(t, f.store.incidents, "inc-new")
	assert.Equal(t, []string{"inc-1"}, f.store.touched)
	assert.Equal(t, []string{domain.IncidentEventOccurrence}, f.events.types())
	assert.Empty(t, f.notifier.requests)
}

func TestHandleViolation_AckIncidentStillDedups(t *testing.T) {
	// ACK 状态也算非 CLOSED，违例仍归并
	f := newFixture()
	acked := &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentAck, Version: 2}
	f.store.incidents["inc-1"] = acked
	f.store.openByRule["r1"] = acked

	err := f.manager.HandleViolation(context.Background(), violationRule(), violationExec(5), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"inc-1"}, f.store.touched)
}

func TestHandleViolation_QueryErrorOpensIncident(t *testing.T) {
	f := newFixture()
	msg := "permission denied for table sessions"
	exec := &domain.Execution{
		ExecutionID: "exec-1",
		RuleID:      "r1",
		FinishedAt:  time.Now(),
		Status:      domain.ExecutionError,
		ErrorLog:    &msg,
	}

	err := f.manager.HandleViolation(context.Background(), violationRule(), exec, nil)
	require.NoError(t, err)
	inc := f.store.incidents["inc-new"]
	require.NotNil(t, inc)
	assert.Contains(t, inc.Details, "failed to run")
}

func TestHandleViolation_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture()
	f.notifier.err = domain.ErrNoRecipients

	err := f.manager.HandleViolation(context.Background(), violationRule(), violationExec(5), nil)
	require.NoError(t, err)
	assert.Contains(t, f.store.incidents, "inc-new")
}

func TestAck_FromOpen(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentOpen, Version: 3}

	inc, err := f.manager.Ack(context.Background(), "inc-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentAck, inc.Status)
	assert.Equal(t, 4, inc.Version)
	assert.Equal(t, []string{domain.IncidentEventAck}, f.events.types())
	assert.Equal(t, []string{"INCIDENT_ACK"}, f.audits.actions)
}

func TestAck_FromAckRejected(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", Status: domain.IncidentAck, Version: 1}

	_, err := f.manager.Ack(context.Background(), "inc-1", "alice")
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.IncidentAck, terr.From)
	assert.Empty(t, f.events.events)
}

func TestAck_VersionConflict(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", Status: domain.IncidentOpen, Version: 1}
	f.store.updateErr = domain.ErrConflict

	_, err := f.manager.Ack(context.Background(), "inc-1", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, f.events.events)
}

func TestClose_FromOpenWithComment(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", Status: domain.IncidentOpen, Version: 1}
	comment := "cleaned up orphan rows"

	inc, err := f.manager.Close(context.Background(), "inc-1", "bob", &comment)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentClosed, inc.Status)
	require.NotNil(t, inc.ResolutionComment)
	assert.Equal(t, comment, *inc.ResolutionComment)
	assert.Equal(t, []string{"INCIDENT_CLOSE"}, f.audits.actions)
}

func TestClose_FromAck(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", Status: domain.IncidentAck, Version: 2}

	inc, err := f.manager.Close(context.Background(), "inc-1", "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentClosed, inc.Status)
}

func TestClose_FromClosedRejected(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", Status: domain.IncidentClosed, Version: 3}

	_, err := f.manager.Close(context.Background(), "inc-1", "bob", nil)
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "close", terr.Action)
}

func TestReexecute_EnqueuesWithOrigin(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentClosed, Version: 3}

	entryID, err := f.manager.Reexecute(context.Background(), "inc-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, "q-1", entryID)

	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, "r1", f.queue.enqueued[0].ruleID)
	require.NotNil(t, f.queue.enqueued[0].origin)
	assert.Equal(t, "inc-1", *f.queue.enqueued[0].origin)

	// 状态不变
	assert.Equal(t, domain.IncidentClosed, f.store.incidents["inc-1"].Status)
	assert.Equal(t, []string{domain.IncidentEventReexecute}, f.events.types())
	assert.Equal(t, []string{"INCIDENT_REEXECUTE"}, f.audits.actions)
}

func TestAck_TriggersNotification(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentOpen, Version: 1}

	_, err := f.manager.Ack(context.Background(), "inc-1", "alice")
	require.NoError(t, err)

	require.Len(t, f.notifier.requests, 1)
	req := f.notifier.requests[0]
	assert.Equal(t, "operator", *req.TargetRole)
	assert.Equal(t, domain.ChannelPush, req.Channel)
	assert.Contains(t, req.Title, domain.IncidentEventAck)
	require.NotNil(t, req.DedupKey)
	assert.Equal(t, "incident:inc-1:ACK", *req.DedupKey)
}

func TestClose_TriggersNotification(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentAck, Version: 2}

	_, err := f.manager.Close(context.Background(), "inc-1", "bob", nil)
	require.NoError(t, err)

	require.Len(t, f.notifier.requests, 1)
	assert.Contains(t, f.notifier.requests[0].Body, "CLOSE")
	assert.Contains(t, f.notifier.requests[0].Body, "bob")
}

func TestReexecute_TriggersNotification(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentClosed, Version: 3}

	_, err := f.manager.Reexecute(context.Background(), "inc-1", "carol")
	require.NoError(t, err)

	require.Len(t, f.notifier.requests, 1)
	assert.Contains(t, f.notifier.requests[0].Title, domain.IncidentEventReexecute)
}

func TestAck_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture()
	f.store.incidents["inc-1"] = &domain.Incident{IncidentID: "inc-1", RuleID: "r1", Status: domain.IncidentOpen, Version: 1}
	f.notifier.err = domain.ErrNoRecipients

	inc, err := f.manager.Ack(context.Background(), "inc-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentAck, inc.Status)
}

func TestReexecute_UnknownIncident(t *testing.T) {
	f := newFixture()
	_, err := f.manager.Reexecute(context.Background(), "missing", "carol")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
