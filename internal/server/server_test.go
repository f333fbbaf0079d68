package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	calendarsyncdomain "github.com/smallbiznis/dealcadence/internal/calendarsync/domain"
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	credentialdomain "github.com/smallbiznis/dealcadence/internal/credential/domain"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	"github.com/smallbiznis/dealcadence/internal/observability"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"github.com/smallbiznis/dealcadence/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testOrgID   = snowflake.ID(7)
	otherOrgID  = snowflake.ID(8)
	testOppID   = snowflake.ID(1001)
	hiddenOppID = snowflake.ID(2001)
)

type fakeOpportunityService struct {
	items map[snowflake.ID]opportunitydomain.Opportunity
}

func newFakeOpportunityService() *fakeOpportunityService {
	return &fakeOpportunityService{
		items: map[snowflake.ID]opportunitydomain.Opportunity{
			testOppID:   {ID: testOppID, OrgID: testOrgID, Name: "Acme renewal", Stage: opportunitydomain.StageDiscovery},
			1002:        {ID: 1002, OrgID: testOrgID, Name: "Acme expansion", Stage: opportunitydomain.StageProposal},
			hiddenOppID: {ID: hiddenOppID, OrgID: otherOrgID, Name: "Other org", Stage: opportunitydomain.StageDiscovery},
		},
	}
}

func (f *fakeOpportunityService) Create(ctx context.Context, req opportunitydomain.CreateOpportunityRequest) (opportunitydomain.Opportunity, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrInvalidOrganization
	}
	if req.Name == "" {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrInvalidName
	}
	item := opportunitydomain.Opportunity{ID: 3001, OrgID: orgID, Name: req.Name, OwnerUserID: req.OwnerUserID, Stage: opportunitydomain.Stage(req.Stage)}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeOpportunityService) GetByID(ctx context.Context, id string) (opportunitydomain.Opportunity, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrInvalidID
	}
	item, ok := f.items[parsed]
	if !ok {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrNotFound
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && item.OrgID != orgID {
		return opportunitydomain.Opportunity{}, opportunitydomain.ErrNotFound
	}
	return item, nil
}

type fakeNextCallService struct {
	triggers   []nextcalldomain.Trigger
	batchIDs   []snowflake.ID
	failIDs    map[snowflake.ID]error
	manualDate *time.Time
	manualSet  bool
	stage      opportunitydomain.Stage
	stageErr   error
}

func (f *fakeNextCallService) Recalculate(ctx context.Context, opportunityID snowflake.ID) (schedule.State, error) {
	f.triggers = append(f.triggers, nextcalldomain.TriggerFromContext(ctx))
	if err := f.failIDs[opportunityID]; err != nil {
		return schedule.State{}, err
	}
	next := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	return schedule.State{NextCall: schedule.Attribution{Date: &next, Source: meetingdomain.SourceCalendar, EventID: "evt-1"}}, nil
}

func (f *fakeNextCallService) RecalculateBatch(ctx context.Context, ids []snowflake.ID) []nextcalldomain.BatchResult {
	f.batchIDs = append(f.batchIDs, ids...)
	results := make([]nextcalldomain.BatchResult, 0, len(ids))
	for _, id := range ids {
		state, err := f.Recalculate(ctx, id)
		if err != nil {
			results = append(results, nextcalldomain.BatchResult{OpportunityID: id, Error: err.Error(), Err: err})
			continue
		}
		results = append(results, nextcalldomain.BatchResult{OpportunityID: id, State: &state})
	}
	return results
}

func (f *fakeNextCallService) SetManualNextCallDate(ctx context.Context, opportunityID snowflake.ID, date *time.Time) (opportunitydomain.Opportunity, error) {
	f.manualSet = true
	f.manualDate = date
	return opportunitydomain.Opportunity{ID: opportunityID, OrgID: testOrgID, NextCallDate: date, NextCallDateManuallySet: date != nil}, nil
}

func (f *fakeNextCallService) ChangeStage(ctx context.Context, opportunityID snowflake.ID, stage opportunitydomain.Stage) (opportunitydomain.Opportunity, error) {
	if f.stageErr != nil {
		return opportunitydomain.Opportunity{}, f.stageErr
	}
	f.stage = stage
	return opportunitydomain.Opportunity{ID: opportunityID, OrgID: testOrgID, Stage: stage}, nil
}

type fakeCBCTaskService struct {
	task      *cbctaskdomain.Task
	synced    []snowflake.ID
	completed []snowflake.ID
}

func (f *fakeCBCTaskService) ProcessForOpportunity(ctx context.Context, opportunityID snowflake.ID) (cbctaskdomain.SyncResult, error) {
	f.synced = append(f.synced, opportunityID)
	return cbctaskdomain.SyncResult{Action: cbctaskdomain.ActionCreated, OpportunityID: opportunityID, ExternalTaskID: "gt-1"}, nil
}

func (f *fakeCBCTaskService) MarkCompleted(ctx context.Context, taskID snowflake.ID) (cbctaskdomain.Task, error) {
	if f.task == nil || f.task.ID != taskID {
		return cbctaskdomain.Task{}, cbctaskdomain.ErrNotFound
	}
	f.completed = append(f.completed, taskID)
	done := *f.task
	done.Status = cbctaskdomain.StatusCompleted
	return done, nil
}

func (f *fakeCBCTaskService) FindForOpportunity(ctx context.Context, opportunityID snowflake.ID) (*cbctaskdomain.Task, error) {
	if f.task == nil || f.task.OpportunityID != opportunityID {
		return nil, nil
	}
	return f.task, nil
}

type fakeCredentialService struct {
	stored    credentialdomain.StoreRequest
	revokeErr error
	revoked   []string
}

func (f *fakeCredentialService) GetValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	return "", credentialdomain.ErrCredentialMissing
}

func (f *fakeCredentialService) Store(ctx context.Context, req credentialdomain.StoreRequest) (credentialdomain.IntegrationCredential, error) {
	f.stored = req
	if req.UserID == "" {
		return credentialdomain.IntegrationCredential{}, credentialdomain.ErrInvalidUser
	}
	return credentialdomain.IntegrationCredential{ID: 9, OrgID: testOrgID, UserID: req.UserID, Provider: req.Provider}, nil
}

func (f *fakeCredentialService) Revoke(ctx context.Context, userID, provider string) error {
	f.revoked = append(f.revoked, userID+"/"+provider)
	return f.revokeErr
}

type fakeIngestor struct {
	callReq  meetingdomain.RecordCallRecordingRequest
	notesReq meetingdomain.RecordNotesSessionRequest
	err      error
}

func (f *fakeIngestor) RecordCallRecording(ctx context.Context, req meetingdomain.RecordCallRecordingRequest) (meetingdomain.IngestResult[meetingdomain.CallRecording], error) {
	f.callReq = req
	if f.err != nil {
		return meetingdomain.IngestResult[meetingdomain.CallRecording]{}, f.err
	}
	return meetingdomain.IngestResult[meetingdomain.CallRecording]{Recalculated: true}, nil
}

func (f *fakeIngestor) RecordNotesSession(ctx context.Context, req meetingdomain.RecordNotesSessionRequest) (meetingdomain.IngestResult[meetingdomain.NotesSession], error) {
	f.notesReq = req
	if f.err != nil {
		return meetingdomain.IngestResult[meetingdomain.NotesSession]{}, f.err
	}
	return meetingdomain.IngestResult[meetingdomain.NotesSession]{Recalculated: false}, nil
}

type fakeImporter struct {
	req calendarsyncdomain.ImportRequest
	err error
}

func (f *fakeImporter) Import(ctx context.Context, req calendarsyncdomain.ImportRequest) (calendarsyncdomain.ImportResult, error) {
	f.req = req
	if f.err != nil {
		return calendarsyncdomain.ImportResult{}, f.err
	}
	return calendarsyncdomain.ImportResult{Imported: 2, External: 1, Recalculated: true}, nil
}

type testServer struct {
	router      *gin.Engine
	nextCall    *fakeNextCallService
	cbcTasks    *fakeCBCTaskService
	credentials *fakeCredentialService
	ingestor    *fakeIngestor
	importer    *fakeImporter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		router:      router,
		nextCall:    &fakeNextCallService{failIDs: map[snowflake.ID]error{}},
		cbcTasks:    &fakeCBCTaskService{},
		credentials: &fakeCredentialService{},
		ingestor:    &fakeIngestor{},
		importer:    &fakeImporter{},
	}
	NewServer(ServerParams{
		Gin:            router,
		Log:            zap.NewNop(),
		OpportunitySvc: newFakeOpportunityService(),
		NextCallSvc:    ts.nextCall,
		CBCTaskSvc:     ts.cbcTasks,
		CredentialSvc:  ts.credentials,
		Ingestor:       ts.ingestor,
		Calendar:       ts.importer,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func orgHeaders(orgID snowflake.ID) map[string]string {
	return map[string]string{HeaderOrg: orgID.String()}
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestGetScheduleReturnsOpportunityAndTask(t *testing.T) {
	ts := newTestServer(t)
	ts.cbcTasks.task = &cbctaskdomain.Task{ID: 55, OrgID: testOrgID, OpportunityID: testOppID, ExternalTaskID: "gt-55", Status: cbctaskdomain.StatusNeedsAction}

	resp := ts.do(http.MethodGet, fmt.Sprintf("/api/opportunities/%s/schedule", testOppID), "", orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Opportunity opportunitydomain.Opportunity `json:"opportunity"`
			CBCTask     *cbctaskdomain.Task           `json:"cbc_task"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, testOppID, body.Data.Opportunity.ID)
	require.NotNil(t, body.Data.CBCTask)
	assert.Equal(t, "gt-55", body.Data.CBCTask.ExternalTaskID)
}

func TestOpportunityOutsideOrgIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, fmt.Sprintf("/api/opportunities/%s/recalculate", hiddenOppID), "", orgHeaders(testOrgID))
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
	assert.Empty(t, ts.nextCall.triggers)
}

func TestInvalidOrgHeaderIsRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, fmt.Sprintf("/api/opportunities/%s", testOppID), "", map[string]string{HeaderOrg: "acme"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_organization", payload.Errors[0].Code)
}

func TestRecalculateRunsWithManualTrigger(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, fmt.Sprintf("/api/opportunities/%s/recalculate", testOppID), "", orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []nextcalldomain.Trigger{nextcalldomain.TriggerManual}, ts.nextCall.triggers)

	var body struct {
		Data schedule.State `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Data.NextCall.Date)
	assert.Equal(t, "evt-1", body.Data.NextCall.EventID)
}

func TestBatchRecalculateKeepsRequestOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.nextCall.failIDs[snowflake.ID(1002)] = errors.New("source down")

	payload := fmt.Sprintf(`{"opportunity_ids":["%s","%s","%s"]}`, testOppID, hiddenOppID, snowflake.ID(1002))
	resp := ts.do(http.MethodPost, "/api/opportunities/recalculate", payload, orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data    []nextcalldomain.BatchResult `json:"data"`
		Summary struct {
			Total     int `json:"total"`
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
	assert.Equal(t, testOppID, body.Data[0].OpportunityID)
	assert.Empty(t, body.Data[0].Error)
	assert.Equal(t, hiddenOppID, body.Data[1].OpportunityID)
	assert.Equal(t, "not_found", body.Data[1].Error)
	assert.Equal(t, snowflake.ID(1002), body.Data[2].OpportunityID)
	assert.Equal(t, "source down", body.Data[2].Error)
	assert.Equal(t, 3, body.Summary.Total)
	assert.Equal(t, 1, body.Summary.Succeeded)
	assert.Equal(t, 2, body.Summary.Failed)

	assert.Equal(t, []snowflake.ID{testOppID, 1002}, ts.nextCall.batchIDs)
}

func TestBatchRecalculateRequiresIDs(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/opportunities/recalculate", `{"opportunity_ids":[]}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "opportunity_ids", decodeError(t, resp).Errors[0].Field)
}

func TestSetNextCallDate(t *testing.T) {
	ts := newTestServer(t)
	path := fmt.Sprintf("/api/opportunities/%s/next-call-date", testOppID)

	resp := ts.do(http.MethodPatch, path, `{"next_call_date":"2025-01-10"}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, ts.nextCall.manualDate)
	assert.True(t, ts.nextCall.manualDate.Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))

	resp = ts.do(http.MethodPatch, path, `{"next_call_date":"2025-01-10T15:30:00+07:00"}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, ts.nextCall.manualDate)
	assert.True(t, ts.nextCall.manualDate.Equal(time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)))

	resp = ts.do(http.MethodPatch, path, `{"next_call_date":null}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, ts.nextCall.manualDate)
}

func TestSetNextCallDateRejectsUnparseableDate(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPatch, fmt.Sprintf("/api/opportunities/%s/next-call-date", testOppID), `{"next_call_date":"next tuesday"}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_next_call_date", decodeError(t, resp).Errors[0].Code)
	assert.False(t, ts.nextCall.manualSet)
}

func TestChangeStage(t *testing.T) {
	ts := newTestServer(t)
	path := fmt.Sprintf("/api/opportunities/%s/stage", testOppID)

	resp := ts.do(http.MethodPatch, path, `{"stage":" Closed_Won "}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, opportunitydomain.StageClosedWon, ts.nextCall.stage)

	ts.nextCall.stageErr = nextcalldomain.ErrInvalidStage
	resp = ts.do(http.MethodPatch, path, `{"stage":"won"}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "invalid_stage", payload.Errors[0].Code)
	assert.Equal(t, "stage", payload.Errors[0].Field)
}

func TestCreateOpportunityRequiresOrg(t *testing.T) {
	ts := newTestServer(t)
	body := `{"name":"Acme","owner_user_id":"u-1","stage":"discovery"}`

	resp := ts.do(http.MethodPost, "/api/opportunities", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_organization", decodeError(t, resp).Errors[0].Code)

	resp = ts.do(http.MethodPost, "/api/opportunities", body, orgHeaders(testOrgID))
	require.Equal(t, http.StatusCreated, resp.Code)
}

func TestSyncCBCTask(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, fmt.Sprintf("/api/opportunities/%s/cbc-task/sync", testOppID), "", orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []snowflake.ID{testOppID}, ts.cbcTasks.synced)
	assert.Contains(t, resp.Body.String(), `"action":"created"`)
}

func TestCompleteCBCTask(t *testing.T) {
	ts := newTestServer(t)
	ts.cbcTasks.task = &cbctaskdomain.Task{ID: 55, OrgID: testOrgID, OpportunityID: testOppID, Status: cbctaskdomain.StatusNeedsAction}

	resp := ts.do(http.MethodPost, "/api/cbc-tasks/55/complete", "", orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"completed"`)

	resp = ts.do(http.MethodPost, "/api/cbc-tasks/56/complete", "", orgHeaders(testOrgID))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.do(http.MethodPost, "/api/cbc-tasks/abc/complete", "", orgHeaders(testOrgID))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, []snowflake.ID{55}, ts.cbcTasks.completed)
}

func TestRecordCallRecording(t *testing.T) {
	ts := newTestServer(t)
	body := fmt.Sprintf(`{"opportunity_id":"%s","provider":"gong","external_call_id":"call-1","meeting_date":"2025-01-08T10:00:00Z","status":"completed"}`, testOppID)

	resp := ts.do(http.MethodPost, "/api/call-recordings", body, orgHeaders(testOrgID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "call-1", ts.ingestor.callReq.ExternalCallID)
	assert.True(t, ts.ingestor.callReq.MeetingDate.Equal(time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)))
	assert.Contains(t, resp.Body.String(), `"recalculated":true`)
}

func TestRecordNotesSessionErrors(t *testing.T) {
	ts := newTestServer(t)
	body := fmt.Sprintf(`{"opportunity_id":"%s","provider":"granola","external_session_id":"s-1","meeting_date":"2025-01-08","status":"completed"}`, testOppID)

	resp := ts.do(http.MethodPost, "/api/notes-sessions", strings.Replace(body, "2025-01-08", "yesterday", 1), orgHeaders(testOrgID))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_meeting_date", decodeError(t, resp).Errors[0].Code)

	ts.ingestor.err = fmt.Errorf("load notes: %w", meetingdomain.ErrSourceUnavailable)
	resp = ts.do(http.MethodPost, "/api/notes-sessions", body, orgHeaders(testOrgID))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "service_unavailable", decodeError(t, resp).Type)
}

func TestImportCalendar(t *testing.T) {
	ts := newTestServer(t)
	ics := "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/opportunities/%s/calendar/import", testOppID), strings.NewReader(ics))
	req.Header.Set("Content-Type", "text/calendar")
	req.Header.Set(HeaderOrg, testOrgID.String())
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, testOppID.String(), ts.importer.req.OpportunityID)
	assert.Equal(t, ics, string(ts.importer.req.ICS))
	assert.Contains(t, resp.Body.String(), `"imported":2`)

	ts.importer.err = fmt.Errorf("%w: unexpected line", calendarsyncdomain.ErrInvalidCalendar)
	resp = ts.do(http.MethodPost, fmt.Sprintf("/api/opportunities/%s/calendar/import", testOppID), "hello", orgHeaders(testOrgID))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "invalid_calendar", payload.Errors[0].Code)
	assert.Equal(t, "calendar", payload.Errors[0].Field)
}

func TestStoreCredentialPrefersHeaderUser(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{HeaderOrg: testOrgID.String(), HeaderUser: "owner-1"}

	resp := ts.do(http.MethodPut, "/api/credentials/google_tasks", `{"user_id":"someone-else","access_token":"at","refresh_token":"rt","scopes":["tasks"]}`, headers)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "owner-1", ts.credentials.stored.UserID)
	assert.Equal(t, "google_tasks", ts.credentials.stored.Provider)
	assert.Equal(t, []string{"tasks"}, ts.credentials.stored.Scopes)
	assert.NotContains(t, resp.Body.String(), `"at"`)

	resp = ts.do(http.MethodPut, "/api/credentials/google_tasks", `{"access_token":"at"}`, orgHeaders(testOrgID))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_user", decodeError(t, resp).Errors[0].Code)
}

func TestRevokeMissingCredential(t *testing.T) {
	ts := newTestServer(t)
	ts.credentials.revokeErr = credentialdomain.ErrCredentialMissing
	headers := map[string]string{HeaderOrg: testOrgID.String(), HeaderUser: "owner-1"}

	resp := ts.do(http.MethodDelete, "/api/credentials/google_tasks", "", headers)
	require.Equal(t, http.StatusFailedDependency, resp.Code)
	assert.Equal(t, "credential_missing", decodeError(t, resp).Type)
	assert.Equal(t, []string{"owner-1/google_tasks"}, ts.credentials.revoked)

	ts.credentials.revokeErr = nil
	resp = ts.do(http.MethodDelete, "/api/credentials/google_tasks", "", headers)
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
}

func TestEngineServesHealthAndMetrics(t *testing.T) {
	router := NewEngine(observability.Config{Environment: "production", LogLevel: "info"}, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMapErrorTable(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"wrapped not found", fmt.Errorf("load: %w", opportunitydomain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"task conflict", cbctaskdomain.ErrTaskExists, http.StatusConflict, "conflict"},
		{"credential missing", credentialdomain.MissingError("revoked"), http.StatusFailedDependency, "credential_missing"},
		{"encryption key", credentialdomain.ErrEncryptionKeyMissing, http.StatusServiceUnavailable, "service_unavailable"},
		{"validation", meetingdomain.ErrInvalidStatus, http.StatusBadRequest, "validation_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}

	kind, code := classifyErrorForLog(meetingdomain.ErrInvalidStatus)
	assert.Equal(t, "validation_error", kind)
	assert.Equal(t, "invalid_status", code)
}
