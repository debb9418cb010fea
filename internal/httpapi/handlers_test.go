package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
	"rulewatch/internal/repository"
)

type fakeIncidentManager struct {
	ackErr   error
	closeErr error
	inc      *domain.Incident
}

func (f *fakeIncidentManager) Ack(_ context.Context, _, _ string) (*domain.Incident, error) {
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	return f.inc, nil
}

func (f *fakeIncidentManager) Close(_ context.Context, _, _ string, comment *string) (*domain.Incident, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	inc := *f.inc
	inc.Status = domain.IncidentClosed
	inc.ResolutionComment = comment
	return &inc, nil
}

func (f *fakeIncidentManager) Reexecute(_ context.Context, incidentID, _ string) (string, error) {
	return "q-1", nil
}

type fakeIncidentReader struct {
	incidents map[string]*domain.Incident
}

func (f *fakeIncidentReader) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inc, nil
}

type fakeEventReader struct{}

func (f *fakeEventReader) ListEvents(_ context.Context, _ string) ([]*domain.IncidentEvent, error) {
	return []*domain.IncidentEvent{{EventID: "e1", EventType: domain.IncidentEventOpen, Actor: "system"}}, nil
}

type fakeNotificationReader struct{}

func (f *fakeNotificationReader) ListByIncident(_ context.Context, _ string) ([]*domain.Notification, error) {
	return nil, nil
}

func openIncident() *domain.Incident {
	return &domain.Incident{
		IncidentID: "inc-1",
		RuleID:     "r1",
		Status:     domain.IncidentAck,
		Priority:   "high",
		Version:    2,
	}
}

func newIncidentsHandler(m *fakeIncidentManager) *IncidentsHandler {
	reader := &fakeIncidentReader{incidents: map[string]*domain.Incident{"inc-1": openIncident()}}
	return NewIncidentsHandler(m, reader, &fakeEventReader{}, &fakeNotificationReader{}, zap.NewNop())
}

func TestIncidents_AckSuccess(t *testing.T) {
	h := newIncidentsHandler(&fakeIncidentManager{inc: openIncident()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/ack", nil)
	req.Header.Set("X-Actor", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result Result[incidentView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ResultSuccess, result.Code)
	assert.Equal(t, "inc-1", result.Result.IncidentID)
}

func TestIncidents_AckInvalidTransitionIs409(t *testing.T) {
	m := &fakeIncidentManager{ackErr: &domain.InvalidTransitionError{From: domain.IncidentClosed, Action: "ack"}}
	h := newIncidentsHandler(m)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/ack", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIncidents_AckVersionConflictIs409(t *testing.T) {
	h := newIncidentsHandler(&fakeIncidentManager{ackErr: domain.ErrConflict})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/ack", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIncidents_GetUnknownIs404(t *testing.T) {
	h := newIncidentsHandler(&fakeIncidentManager{inc: openIncident()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncidents_CloseWithComment(t *testing.T) {
	h := newIncidentsHandler(&fakeIncidentManager{inc: openIncident()})

	body := strings.NewReader(`{"comment":"fixed upstream"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/close", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result Result[incidentView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, string(domain.IncidentClosed), result.Result.Status)
	require.NotNil(t, result.Result.ResolutionComment)
	assert.Equal(t, "fixed upstream", *result.Result.ResolutionComment)
}

func TestIncidents_ReexecuteIs202(t *testing.T) {
	h := newIncidentsHandler(&fakeIncidentManager{inc: openIncident()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1/reexecute", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

type fakeRuleStore struct {
	rules   map[string]*domain.Rule
	created *domain.Rule
	updated *domain.Rule
}

func (f *fakeRuleStore) GetRule(_ context.Context, id string) (*domain.Rule, error) {
	r, ok := f.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuleStore) ListRules(_ context.Context) ([]*domain.Rule, error) {
	out := []*domain.Rule{}
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuleStore) CreateRule(_ context.Context, rule *domain.Rule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	f.created = rule
	return "r-new", nil
}

func (f *fakeRuleStore) UpdateRule(_ context.Context, rule *domain.Rule) error {
	if _, ok := f.rules[rule.RuleID]; !ok {
		return domain.ErrNotFound
	}
	f.updated = rule
	return nil
}

func (f *fakeRuleStore) DeleteRule(_ context.Context, id string) error {
	if _, ok := f.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeRuleStore) SilenceRule(_ context.Context, id string, _ time.Time) error {
	if _, ok := f.rules[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

type fakeExecReader struct{}

func (f *fakeExecReader) ListExecutions(_ context.Context, _ string, _, _ int) ([]*domain.Execution, error) {
	return nil, nil
}

type nopAuditStore struct{}

func (nopAuditStore) Append(_ context.Context, _, _, _, _ string) error { return nil }

func newRulesHandler(store *fakeRuleStore) *RulesHandler {
	return NewRulesHandler(store, &fakeExecReader{}, audit.NewLogger(nopAuditStore{}, zap.NewNop()), zap.NewNop())
}

func TestRules_CreateSuccess(t *testing.T) {
	store := &fakeRuleStore{rules: map[string]*domain.Rule{}}
	h := newRulesHandler(store)

	body := strings.NewReader(`{
		"name": "orphan sessions",
		"query": "SELECT * FROM sessions WHERE user_id IS NULL",
		"interval_minutes": 15,
		"window_start": "22:00",
		"window_end": "06:00",
		"threshold": 5,
		"target_source": "primary",
		"priority": "high"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, "orphan sessions", store.created.Name)
	assert.Equal(t, "22:00", store.created.WindowStart.String())

	var result Result[ruleView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "r-new", result.Result.RuleID)
}

func TestRules_CreateValidationIs400(t *testing.T) {
	h := newRulesHandler(&fakeRuleStore{rules: map[string]*domain.Rule{}})

	// interval 缺失
	body := strings.NewReader(`{"name":"x","query":"SELECT 1","window_start":"00:00","window_end":"23:59","target_source":"primary"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRules_CreateBadWindowIs400(t *testing.T) {
	h := newRulesHandler(&fakeRuleStore{rules: map[string]*domain.Rule{}})

	body := strings.NewReader(`{"name":"x","query":"SELECT 1","interval_minutes":5,"window_start":"25:00","window_end":"23:59","target_source":"primary"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRules_UpdatePreservesSilenceWindow(t *testing.T) {
	until := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeRuleStore{rules: map[string]*domain.Rule{"r1": {
		RuleID:          "r1",
		Name:            "orphan sessions",
		Query:           "SELECT 1",
		IntervalMinutes: 15,
		TargetSource:    "primary",
		SilencedUntil:   &until,
	}}}
	h := newRulesHandler(store)

	// 请求体不带 silenced_until
	body := strings.NewReader(`{
		"name": "orphan sessions",
		"query": "SELECT 1",
		"interval_minutes": 30,
		"window_start": "00:00",
		"window_end": "23:59",
		"threshold": 5,
		"target_source": "primary"
	}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/rules/r1", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.updated)
	require.NotNil(t, store.updated.SilencedUntil)
	assert.Equal(t, until, *store.updated.SilencedUntil)
}

func TestRules_UpdateClearsSilenceWhenExplicit(t *testing.T) {
	until := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeRuleStore{rules: map[string]*domain.Rule{"r1": {
		RuleID:          "r1",
		Name:            "orphan sessions",
		Query:           "SELECT 1",
		IntervalMinutes: 15,
		TargetSource:    "primary",
		SilencedUntil:   &until,
	}}}
	h := newRulesHandler(store)

	body := strings.NewReader(`{
		"name": "orphan sessions",
		"query": "SELECT 1",
		"interval_minutes": 30,
		"window_start": "00:00",
		"window_end": "23:59",
		"threshold": 5,
		"target_source": "primary",
		"silenced_until": "2025-07-01T00:00:00Z"
	}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/rules/r1", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.updated)
	require.NotNil(t, store.updated.SilencedUntil)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), *store.updated.SilencedUntil)
}

func TestRules_DeleteUnknownIs404(t *testing.T) {
	h := newRulesHandler(&fakeRuleStore{rules: map[string]*domain.Rule{}})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rules/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRules_SilenceRequiresUntil(t *testing.T) {
	h := newRulesHandler(&fakeRuleStore{rules: map[string]*domain.Rule{"r1": {RuleID: "r1"}}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/r1/silence", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeDispatcher struct {
	result *domain.DispatchResult
	err    error
	got    *domain.NotificationRequest
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error) {
	f.got = req
	return f.result, f.err
}

func TestNotifications_DispatchSuccess(t *testing.T) {
	d := &fakeDispatcher{result: &domain.DispatchResult{Matched: 2, Delivered: 2}}
	h := NewNotificationsHandler(d, zap.NewNop())

	body := strings.NewReader(`{"target_role":"operator","title":"alert","body":"b","channel":"push"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/dispatch", body)
	req.Header.Set("X-Actor", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, d.got)
	assert.Equal(t, "alice", d.got.Actor)
}

func TestNotifications_NoRecipientsIs422(t *testing.T) {
	d := &fakeDispatcher{err: domain.ErrNoRecipients}
	h := NewNotificationsHandler(d, zap.NewNop())

	body := strings.NewReader(`{"target_role":"nobody","title":"alert","body":"b","channel":"push"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/dispatch", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

type fakeResolver struct {
	matrix []domain.EffectivePermission
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (bool, error) { return false, nil }

func (f *fakeResolver) ResolveAll(_ context.Context, userID string) ([]domain.EffectivePermission, error) {
	if userID == "missing" {
		return nil, domain.ErrNotFound
	}
	return f.matrix, nil
}

func (f *fakeResolver) SetRolePermission(_ context.Context, _, role, permissionID string, _ bool) error {
	if role == "" || permissionID == "" {
		return domain.NewValidationError("role", "is required")
	}
	return nil
}

func (f *fakeResolver) SetUserPermission(_ context.Context, _, _, _ string, _ bool) error {
	return nil
}

type fakeMatrixReader struct{}

func (fakeMatrixReader) ListRoleMatrix(_ context.Context) ([]*domain.RolePermission, error) {
	return []*domain.RolePermission{{Role: "operator", PermissionID: "p1", Enabled: true}}, nil
}

func TestPermissions_CalculatedRequiresUserID(t *testing.T) {
	h := NewPermissionsHandler(&fakeResolver{}, fakeMatrixReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions/calculated", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissions_CalculatedUnknownUserIs404(t *testing.T) {
	h := NewPermissionsHandler(&fakeResolver{}, fakeMatrixReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions/calculated?user_id=missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissions_Matrix(t *testing.T) {
	h := NewPermissionsHandler(&fakeResolver{}, fakeMatrixReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions/matrix", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operator"`)
}

func TestPermissions_SetRoleValidationIs400(t *testing.T) {
	h := NewPermissionsHandler(&fakeResolver{}, fakeMatrixReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/permissions/role", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Healthz(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.RegisterRoutes(
		newRulesHandler(&fakeRuleStore{rules: map[string]*domain.Rule{}}),
		newIncidentsHandler(&fakeIncidentManager{inc: openIncident()}),
		NewPermissionsHandler(&fakeResolver{}, fakeMatrixReader{}, zap.NewNop()),
		NewNotificationsHandler(&fakeDispatcher{result: &domain.DispatchResult{}}, zap.NewNop()),
		NewAuditHandler(&fakeAuditReader{}, zap.NewNop()),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

type fakeAuditReader struct{}

func (fakeAuditReader) List(_ context.Context, _ repository.AuditFilters, page, size int) ([]*domain.AuditEntry, int, error) {
	return []*domain.AuditEntry{{EntryID: 1, Actor: "alice", Action: "RULE_CREATE", Timestamp: time.Now()}}, 1, nil
}

func TestAudit_List(t *testing.T) {
	h := NewAuditHandler(&fakeAuditReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?actor=alice", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "RULE_CREATE")
}

func TestAudit_ExportIsXlsx(t *testing.T) {
	h := NewAuditHandler(&fakeAuditReader{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/export", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	// xlsx 是 zip 容器
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"))
}
