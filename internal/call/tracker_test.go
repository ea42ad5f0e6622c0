package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/event"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// memStore is an in-memory RecordStore with the same conditional-update
// semantics as the gorm repository.
type memStore struct {
	mu      sync.Mutex
	records map[string]*CallRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*CallRecord)}
}

func (s *memStore) Get(_ context.Context, callID string) (*CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	clone := *record

	return &clone, nil
}

func (s *memStore) Create(_ context.Context, record *CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	clone.CreatedAt = time.Now()
	s.records[record.CallID] = &clone

	return nil
}

func (s *memStore) Updates(_ context.Context, callID string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok {
		return nil
	}

	for column, value := range updates {
		switch column {
		case "state":
			record.State = value.(string)
		case "fail_reason":
			record.FailReason = value.(string)
		case "direction":
			record.Direction = value.(string)
		case "calling":
			record.Calling = value.(string)
		case "called":
			record.Called = value.(string)
		case "account_tags":
			record.AccountTags = value.(string)
		case "agent_extension":
			record.AgentExtension = value.(string)
		case "agent_name":
			record.AgentName = value.(string)
		case "was_recorded":
			record.WasRecorded = value.(bool)
		case "recording_url":
			record.RecordingURL = value.(string)
		case "duration":
			record.Duration = value.(int)
		case "last_payload":
			record.LastPayload = value.(datatypes.JSON)
		case "ended_at":
			record.EndedAt = value.(*time.Time)
		case "last_event_at":
			record.LastEventAt = value.(time.Time)
		}
	}

	return nil
}

func (s *memStore) ClaimDispatch(_ context.Context, callID, taskID, objectKey, originalFilename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok || record.DispatchedTaskID != nil || record.State == StateFailed {
		return false, nil
	}

	record.DispatchedTaskID = &taskID
	record.RecordingObjectKey = objectKey
	record.OriginalFilename = originalFilename
	record.State = StateDispatched
	record.LastEventAt = time.Now()

	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, callID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[callID]
	if !ok || record.Terminal() {
		return nil
	}

	record.State = StateFailed
	record.FailReason = reason

	return nil
}

func (s *memStore) PurgeTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64

	for id, record := range s.records {
		if record.Terminal() && record.LastEventAt.Before(cutoff) {
			delete(s.records, id)
			purged++
		}
	}

	return purged, nil
}

func (s *memStore) StalledEnded(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var callIDs []string

	for id, record := range s.records {
		if len(callIDs) == limit {
			break
		}

		if record.State == StateEnded && record.DispatchedTaskID == nil && record.LastEventAt.Before(olderThan) {
			callIDs = append(callIDs, id)
		}
	}

	return callIDs, nil
}

func eventPayload(trigger, callID string) *event.WebhookPayload {
	p := &event.WebhookPayload{
		HookTrigger: trigger,
		CDRID:       callID,
		DialTimeRaw: "2026-02-10 10:30:00",
		Direction:   "inbound",
		Calling:     "+5491167950079",
		Called:      "+5491126888209",
	}

	if trigger == event.TriggerEnd {
		p.Duration = 120
		p.WasRecorded = true
		p.AudioFileMP3 = "https://pbx.example.com/recordings/" + callID + ".mp3"
		p.AccountTags = "campaign_123"
		p.QueueAgentExtension = "300"
		p.QueueAgentName = "Agent 300"
	}

	return p
}

func TestTrackerInOrderLifecycle(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	tr, err := tracker.Apply(ctx, eventPayload(event.TriggerStart, "call-1"))
	require.NoError(t, err)
	require.True(t, tr.Created)
	require.Equal(t, StateStarted, tr.To)
	require.False(t, tr.ShouldDispatch)

	tr, err = tracker.Apply(ctx, eventPayload(event.TriggerTalk, "call-1"))
	require.NoError(t, err)
	require.Equal(t, StateTalking, tr.To)

	tr, err = tracker.Apply(ctx, eventPayload(event.TriggerEnd, "call-1"))
	require.NoError(t, err)
	require.Equal(t, StateEnded, tr.To)
	require.True(t, tr.ShouldDispatch)

	record, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, StateEnded, record.State)
	require.True(t, record.WasRecorded)
	require.Equal(t, "campaign_123", record.AccountTags)
	require.Equal(t, "300", record.AgentExtension)
	require.NotNil(t, record.EndedAt)
	require.NotEmpty(t, record.LastPayload)
}

func TestTrackerOutOfOrderMatchesInOrder(t *testing.T) {
	ctx := context.Background()

	inOrder := newMemStore()
	trackerA := NewTracker(inOrder)

	for _, trigger := range []string{event.TriggerStart, event.TriggerTalk, event.TriggerEnd} {
		_, err := trackerA.Apply(ctx, eventPayload(trigger, "call-ord"))
		require.NoError(t, err)
	}

	outOfOrder := newMemStore()
	trackerB := NewTracker(outOfOrder)

	for _, trigger := range []string{event.TriggerTalk, event.TriggerStart, event.TriggerEnd} {
		_, err := trackerB.Apply(ctx, eventPayload(trigger, "call-ord"))
		require.NoError(t, err)
	}

	expected, err := inOrder.Get(ctx, "call-ord")
	require.NoError(t, err)

	actual, err := outOfOrder.Get(ctx, "call-ord")
	require.NoError(t, err)

	require.Equal(t, expected.State, actual.State)
	require.Equal(t, expected.Direction, actual.Direction)
	require.Equal(t, expected.Calling, actual.Calling)
	require.Equal(t, expected.Called, actual.Called)
	require.Equal(t, expected.AccountTags, actual.AccountTags)
	require.Equal(t, expected.AgentExtension, actual.AgentExtension)
	require.Equal(t, expected.WasRecorded, actual.WasRecorded)
	require.Equal(t, expected.RecordingURL, actual.RecordingURL)
	require.Equal(t, expected.Duration, actual.Duration)
	require.Equal(t, expected.EndedAt.Unix(), actual.EndedAt.Unix())
}

func TestTrackerSynthesizesRecordOnEndWithoutStart(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)

	tr, err := tracker.Apply(context.Background(), eventPayload(event.TriggerEnd, "call-late"))
	require.NoError(t, err)
	require.True(t, tr.Created)
	require.Equal(t, StateEnded, tr.To)
	require.True(t, tr.ShouldDispatch)

	record, err := store.Get(context.Background(), "call-late")
	require.NoError(t, err)
	require.Equal(t, StateEnded, record.State)
	require.NotEmpty(t, record.RecordingURL)
}

func TestTrackerIgnoresStartAfterEnded(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	_, err := tracker.Apply(ctx, eventPayload(event.TriggerEnd, "call-2"))
	require.NoError(t, err)

	tr, err := tracker.Apply(ctx, eventPayload(event.TriggerStart, "call-2"))
	require.NoError(t, err)
	require.True(t, tr.Ignored)
	require.Equal(t, StateEnded, tr.To)

	record, err := store.Get(ctx, "call-2")
	require.NoError(t, err)
	require.Equal(t, StateEnded, record.State)
}

func TestTrackerDuplicateTalkRefreshesOnly(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	_, err := tracker.Apply(ctx, eventPayload(event.TriggerStart, "call-3"))
	require.NoError(t, err)

	_, err = tracker.Apply(ctx, eventPayload(event.TriggerTalk, "call-3"))
	require.NoError(t, err)

	before, err := store.Get(ctx, "call-3")
	require.NoError(t, err)

	tr, err := tracker.Apply(ctx, eventPayload(event.TriggerTalk, "call-3"))
	require.NoError(t, err)
	require.True(t, tr.Duplicate)

	after, err := store.Get(ctx, "call-3")
	require.NoError(t, err)
	require.Equal(t, before.State, after.State)
	require.False(t, after.LastEventAt.Before(before.LastEventAt))
}

func TestTrackerDuplicateEndRetriggersUnclaimedDispatch(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	_, err := tracker.Apply(ctx, eventPayload(event.TriggerEnd, "call-4"))
	require.NoError(t, err)

	tr, err := tracker.Apply(ctx, eventPayload(event.TriggerEnd, "call-4"))
	require.NoError(t, err)
	require.True(t, tr.Duplicate)
	require.True(t, tr.ShouldDispatch)

	claimed, err := store.ClaimDispatch(ctx, "call-4", "task-1", "recordings/key.mp3", "file.mp3")
	require.NoError(t, err)
	require.True(t, claimed)

	tr, err = tracker.Apply(ctx, eventPayload(event.TriggerEnd, "call-4"))
	require.NoError(t, err)
	require.True(t, tr.Ignored)
	require.False(t, tr.ShouldDispatch)

	record, err := store.Get(ctx, "call-4")
	require.NoError(t, err)
	require.Equal(t, StateDispatched, record.State)
	require.Equal(t, "task-1", *record.DispatchedTaskID)
}

func TestTrackerConcurrentDeliveriesSameCall(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store)
	ctx := context.Background()

	const deliveries = 50

	var wg sync.WaitGroup

	for i := 0; i < deliveries; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := tracker.Apply(ctx, eventPayload(event.TriggerEnd, "call-conc"))
			require.NoError(t, err)
		}()
	}

	wg.Wait()

	record, err := store.Get(ctx, "call-conc")
	require.NoError(t, err)
	require.Equal(t, StateEnded, record.State)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := locks.Lock("same")
			defer unlock()

			counter++
		}()
	}

	wg.Wait()
	require.Equal(t, 100, counter)
	require.Empty(t, locks.entries)
}
