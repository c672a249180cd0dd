package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/settle"
)

type fakeTaskStore struct {
	mu         sync.Mutex
	tasks      map[string]domain.Task
	results    map[string]json.RawMessage
	lastResult *time.Time
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:   make(map[string]domain.Task),
		results: make(map[string]json.RawMessage),
	}
}

func (f *fakeTaskStore) AddTask(_ context.Context, task domain.Task) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.CreatedAt = time.Now()
	f.tasks[task.ID] = task
	return &task, nil
}

func (f *fakeTaskStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[id]; ok {
		return &task, nil
	}
	return nil, nil
}

func (f *fakeTaskStore) TasksForUser(_ context.Context, userID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Task
	for id, task := range f.tasks {
		if _, done := f.results[userID+"|"+id]; !done {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) StoreTaskResults(_ context.Context, userID, taskID string, results json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "|" + taskID
	if _, ok := f.results[key]; !ok {
		f.results[key] = results
	}
	return nil
}

func (f *fakeTaskStore) LastResultAt(_ context.Context, userID string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastResult, nil
}

type fakeResolver struct {
	mu      sync.Mutex
	records map[string]*domain.SettlementRecord
	err     error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{records: make(map[string]*domain.SettlementRecord)}
}

func (f *fakeResolver) ResolveSettlement(_ context.Context, userID, eventKey string) (*domain.SettlementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.records[userID+"|"+eventKey], nil
}

type fakeSettleQueue struct {
	mu   sync.Mutex
	jobs []settle.Job
	err  error
}

func (f *fakeSettleQueue) Enqueue(_ context.Context, job settle.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeSettleQueue) queued() []settle.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settle.Job(nil), f.jobs...)
}

type taskFixture struct {
	handler *TaskHandler
	tasks   *fakeTaskStore
	records *fakeResolver
	queue   *fakeSettleQueue
}

func setupTaskHandler(t *testing.T) *taskFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tasks := newFakeTaskStore()
	records := newFakeResolver()
	queue := &fakeSettleQueue{}
	handler := NewTaskHandler(tasks, records, queue, logger)
	return &taskFixture{handler: handler, tasks: tasks, records: records, queue: queue}
}

func (fx *taskFixture) addTask(t *testing.T, id string, reward int64, delayDays int) {
	t.Helper()
	_, err := fx.tasks.AddTask(context.Background(), domain.Task{
		ID:     id,
		Title:  "Survey " + id,
		Reward: reward,
		// DelayDays gates how soon after the previous result this one may
		// be submitted.
		DelayDays: delayDays,
	})
	require.NoError(t, err)
}

func submitResultsReq(t *testing.T, userID, taskID string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      taskID,
		"address": testAddress,
		"results": []map[string]string{{"qid": "q1", "answer": "a2"}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/user/task/results", bytes.NewReader(body))
	req.Header.Set(userIDHeader, userID)
	return req
}

func decodeSubmitResponse(t *testing.T, rr *httptest.ResponseRecorder) submitResultsResponse {
	t.Helper()
	var resp submitResultsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestSubmitResults_QueuesSettlement(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSubmitResponse(t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, strings.HasPrefix(resp.Memo, "prk-"))

	jobs := fx.queue.queued()
	require.Len(t, jobs, 1)
	assert.Equal(t, testUserID, jobs[0].UserID)
	assert.Equal(t, "task-1", jobs[0].EventKey)
	assert.Equal(t, domain.KindTaskCompleted, jobs[0].Kind)
	assert.Equal(t, testAddress, jobs[0].Destination)
	assert.Equal(t, resp.Memo, jobs[0].Reference)
}

func TestSubmitResults_ResubmissionReturnsRecordedMemo(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)
	fx.records.records[testUserID+"|task-1"] = &domain.SettlementRecord{
		UserID:    testUserID,
		EventKey:  "task-1",
		Reference: "prk-recorded",
	}

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSubmitResponse(t, rr)
	assert.Equal(t, "prk-recorded", resp.Memo, "a resubmission replays the recorded reference")
	assert.Empty(t, fx.queue.queued(), "a resubmission must not queue another settlement")
}

func TestSubmitResults_MergedIdentityResubmission(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)

	// The record belongs to the identity this user merged with. The
	// resolver surfaces it for the current identity; the response replays
	// its reference unchanged.
	fx.records.records[testUserID+"|task-1"] = &domain.SettlementRecord{
		UserID:    "11111111-2222-3333-4444-555555555555",
		EventKey:  "task-1",
		Reference: "prk-from-old-identity",
	}

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "prk-from-old-identity", decodeSubmitResponse(t, rr).Memo)
	assert.Empty(t, fx.queue.queued())
}

func TestSubmitResults_RecordsStoreDown_NeverQueues(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)
	fx.records.err = errors.New("store unavailable")

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, fx.queue.queued(), "must not pay when the idempotency check is unavailable")
}

func TestSubmitResults_PrematureSubmission(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 1)
	recent := time.Now().Add(-2 * time.Hour)
	fx.tasks.lastResult = &recent

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "cooldown_enforced")
	assert.Empty(t, fx.queue.queued())
}

func TestSubmitResults_DelayElapsed(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 1)
	old := time.Now().Add(-25 * time.Hour)
	fx.tasks.lastResult = &old

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, fx.queue.queued(), 1)
}

func TestSubmitResults_UnknownTask(t *testing.T) {
	fx := setupTaskHandler(t)

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-missing"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, fx.queue.queued())
}

func TestSubmitResults_QueueDown(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)
	fx.queue.err = errors.New("redis down")

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	// The stored result row keeps the event discoverable for the
	// reconciliation sweep.
	assert.Len(t, fx.tasks.results, 1)
}

func TestSubmitResults_FreshReferencePerSubmission(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)
	fx.addTask(t, "task-2", 50, 0)

	var memos []string
	for _, taskID := range []string{"task-1", "task-2"} {
		rr := httptest.NewRecorder()
		fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, taskID))
		require.Equal(t, http.StatusOK, rr.Code)
		memos = append(memos, decodeSubmitResponse(t, rr).Memo)
	}

	assert.NotEqual(t, memos[0], memos[1])
}

func TestNextTasks_ExcludesCompleted(t *testing.T) {
	fx := setupTaskHandler(t)
	fx.addTask(t, "task-1", 100, 0)
	fx.addTask(t, "task-2", 50, 0)

	rr := httptest.NewRecorder()
	fx.handler.SubmitResults(rr, submitResultsReq(t, testUserID, "task-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/user/tasks", nil)
	req.Header.Set(userIDHeader, testUserID)
	rr = httptest.NewRecorder()
	fx.handler.NextTasks(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Tasks []domain.Task `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "task-2", resp.Tasks[0].ID)
}

func TestAddTask_ValidatesReward(t *testing.T) {
	fx := setupTaskHandler(t)

	body := fmt.Sprintf(`{"task": {"id": "task-1", "title": "Survey", "reward": %d}}`, 0)
	rr := httptest.NewRecorder()
	fx.handler.AddTask(rr, httptest.NewRequest(http.MethodPost, "/internal/task/add", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
