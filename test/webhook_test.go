package test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/campaign"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/dispatch"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/ingress"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/operator"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/recording"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type capturingQueue struct {
	mu    sync.Mutex
	tasks []*dispatch.Task
	ch    chan *dispatch.Task
}

func newCapturingQueue() *capturingQueue {
	return &capturingQueue{ch: make(chan *dispatch.Task, 10)}
}

func (q *capturingQueue) Submit(_ context.Context, task *dispatch.Task) error {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	q.ch <- task

	return nil
}

func (q *capturingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memoryObjectStore) Upload(_ context.Context, buffer *bytes.Buffer, objectKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}

	s.objects[objectKey] = buffer.Bytes()

	return "https://storage.test/" + objectKey, nil
}

type integrationContext struct {
	t       *testing.T
	db      *gorm.DB
	repo    *call.CallRepository
	queue   *capturingQueue
	storage *memoryObjectStore
	server  *httptest.Server
	pbx     *httptest.Server
	cleanup []func()
}

func (ic *integrationContext) close() {
	for i := len(ic.cleanup) - 1; i >= 0; i-- {
		ic.cleanup[i]()
	}
}

func setupIntegration(t *testing.T) *integrationContext {
	t.Helper()

	pool := newPool(t)

	circuitbreak.Init()

	go func() {
		for range circuitbreak.CircuitBreakChan {
		}
	}()

	dsn, stopPostgres := startPostgres(t, pool)
	configureConfigForTest(t, dsn)

	db, err := database.NewDatabase()
	require.NoError(t, err)

	applySchema(t, db)

	require.NoError(t, db.Exec("INSERT INTO campaigns (id, name) VALUES (123, 'ventas')").Error)

	pbx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-recording-bytes"))
	}))

	repo := call.NewCallRepository(db)
	tracker := call.NewTracker(repo)

	queue := newCapturingQueue()
	storage := &memoryObjectStore{}

	dispatcher := dispatch.NewDispatcher(
		repo,
		campaign.NewCampaignRepository(db),
		operator.NewOperatorRepository(db),
		recording.NewFetcher(),
		storage,
		queue,
	)

	workerPool, err := ants.NewPool(config.Conf.PoolSize, ants.WithPreAlloc(true))
	require.NoError(t, err)

	handler := ingress.NewWebhookHandler(tracker, dispatcher, workerPool)
	server := httptest.NewServer(ingress.NewServer(handler).Handler())

	return &integrationContext{
		t:       t,
		db:      db,
		repo:    repo,
		queue:   queue,
		storage: storage,
		server:  server,
		pbx:     pbx,
		cleanup: []func(){stopPostgres, pbx.Close, server.Close, workerPool.Release},
	}
}

func (ic *integrationContext) postWebhook(body map[string]any) *http.Response {
	ic.t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(ic.t, err)

	req, err := http.NewRequest(http.MethodPost, ic.server.URL+"/webhook/anura", bytes.NewReader(payload))
	require.NoError(ic.t, err)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", config.Conf.WebhookAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ic.t, err)

	defer resp.Body.Close()

	return resp
}

func (ic *integrationContext) webhookBody(trigger, callID string) map[string]any {
	return map[string]any{
		"hooktrigger":         trigger,
		"cdrid":               callID,
		"dialtime":            "2026-02-10 10:30:00",
		"direction":           "inbound",
		"calling":             "+5491167950079",
		"called":              "+5491126888209",
		"duration":            90,
		"wasrecorded":         true,
		"audio_file_mp3":      ic.pbx.URL + "/recordings/" + callID + ".mp3",
		"accounttags":         "campaign_123",
		"queueagentextension": "300",
		"queueagentname":      "Agent 300",
	}
}

func (ic *integrationContext) waitForTask(timeout time.Duration) *dispatch.Task {
	ic.t.Helper()

	select {
	case task := <-ic.queue.ch:
		return task
	case <-time.After(timeout):
		ic.t.Fatal("timed out waiting for dispatched task")
		return nil
	}
}

func TestWebhookLifecycleDispatchesOneTask(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ic := setupIntegration(t)
	defer ic.close()

	for _, trigger := range []string{"START", "TALK", "END"} {
		resp := ic.postWebhook(ic.webhookBody(trigger, "call-e2e"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	task := ic.waitForTask(15 * time.Second)
	require.Equal(t, "call-e2e", task.SourceCallID)
	require.Equal(t, 123, task.CampaignID)
	require.NotEmpty(t, task.ObjectKey)

	record, err := ic.repo.Get(context.Background(), "call-e2e")
	require.NoError(t, err)
	require.Equal(t, call.StateDispatched, record.State)
	require.Equal(t, task.TaskID, *record.DispatchedTaskID)

	require.Contains(t, ic.storage.objects, task.ObjectKey)
	require.Equal(t, []byte("mp3-recording-bytes"), ic.storage.objects[task.ObjectKey])

	// Operator 300 was created on first sight.
	var extension int
	require.NoError(t, ic.db.Raw("SELECT extension FROM operators LIMIT 1").Scan(&extension).Error)
	require.Equal(t, 300, extension)
}

func TestWebhookDuplicateEndsStillOneTask(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ic := setupIntegration(t)
	defer ic.close()

	for i := 0; i < 5; i++ {
		resp := ic.postWebhook(ic.webhookBody("END", "call-dup"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	ic.waitForTask(15 * time.Second)

	// Allow stragglers to finish before counting.
	time.Sleep(2 * time.Second)
	require.Equal(t, 1, ic.queue.count())

	record, err := ic.repo.Get(context.Background(), "call-dup")
	require.NoError(t, err)
	require.Equal(t, call.StateDispatched, record.State)
}

func TestClaimDispatchFirstWriterWins(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ic := setupIntegration(t)
	defer ic.close()

	now := time.Now()
	record := &call.CallRecord{
		CallID:      "call-cas",
		State:       call.StateEnded,
		LastEventAt: now,
		EndedAt:     &now,
	}
	require.NoError(t, ic.repo.Create(context.Background(), record))

	const writers = 20

	var (
		wg   sync.WaitGroup
		wins sync.Map
	)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			taskID := uuid.New().String()

			claimed, err := ic.repo.ClaimDispatch(
				context.Background(), "call-cas", taskID, "key.mp3", "file.mp3",
			)
			require.NoError(t, err)

			if claimed {
				wins.Store(taskID, true)
			}
		}()
	}

	wg.Wait()

	var winners []string

	wins.Range(func(key, _ any) bool {
		winners = append(winners, key.(string))
		return true
	})

	require.Len(t, winners, 1)

	stored, err := ic.repo.Get(context.Background(), "call-cas")
	require.NoError(t, err)
	require.Equal(t, winners[0], *stored.DispatchedTaskID)
	require.Equal(t, call.StateDispatched, stored.State)
}

func TestOutOfOrderStartAfterEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ic := setupIntegration(t)
	defer ic.close()

	resp := ic.postWebhook(ic.webhookBody("END", "call-ooo"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ic.waitForTask(15 * time.Second)

	resp = ic.postWebhook(ic.webhookBody("START", "call-ooo"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record, err := ic.repo.Get(context.Background(), "call-ooo")
	require.NoError(t, err)
	require.Equal(t, call.StateDispatched, record.State)
	require.Equal(t, 90, record.Duration)
}

func TestEnsureOperatorConcurrentFirstSight(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ic := setupIntegration(t)
	defer ic.close()

	repo := operator.NewOperatorRepository(ic.db)

	const workers = 10

	operators := make([]*operator.Operator, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			operators[i], errs[i] = repo.EnsureOperator(context.Background(), 512, "Lucia Paz")
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, operators[0].ID, operators[i].ID)
	}

	var count int64
	require.NoError(t, ic.db.Model(&operator.Operator{}).Where("extension = ?", 512).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
