package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/event"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var triggerInitialState = map[string]string{
	event.TriggerStart: StateStarted,
	event.TriggerTalk:  StateTalking,
	event.TriggerEnd:   StateEnded,
}

// Transition is the tracker's report of what a delivery did to the record.
type Transition struct {
	CallID         string
	From           string
	To             string
	Created        bool
	Duplicate      bool
	Ignored        bool
	ShouldDispatch bool
}

// Tracker is the per-call state machine. Deliveries for the same call id are
// serialized through a keyed mutex; distinct ids proceed in parallel.
type Tracker struct {
	Store RecordStore
	locks *keyedMutex
}

func NewTracker(store RecordStore) *Tracker {
	return &Tracker{
		Store: store,
		locks: newKeyedMutex(),
	}
}

// Apply consumes one validated webhook delivery. Out-of-order, duplicated and
// late deliveries are tolerated: a missing START is synthesized, duplicates
// only refresh last_event_at, and nothing ever regresses a state.
func (tracker *Tracker) Apply(ctx context.Context, payload *event.WebhookPayload) (*Transition, error) {
	unlock := tracker.locks.Lock(payload.CDRID)
	defer unlock()

	record, err := tracker.Store.Get(ctx, payload.CDRID)
	if err == nil {
		return tracker.applyToExisting(ctx, record, payload)
	}

	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	return tracker.createFromEvent(ctx, payload)
}

func (tracker *Tracker) createFromEvent(
	ctx context.Context,
	payload *event.WebhookPayload,
) (*Transition, error) {
	state := triggerInitialState[payload.HookTrigger]
	now := time.Now()

	record := &CallRecord{
		CallID:         payload.CDRID,
		State:          state,
		Direction:      payload.Direction,
		Calling:        payload.Calling,
		Called:         payload.Called,
		AccountTags:    payload.AccountTags,
		AgentExtension: payload.QueueAgentExtension,
		AgentName:      payload.QueueAgentName,
		LastEventAt:    now,
	}

	if state == StateEnded {
		applyEndFields(record, payload)
	}

	err := tracker.Store.Create(ctx, record)
	if err != nil {
		return nil, err
	}

	if payload.HookTrigger != event.TriggerStart {
		logging.Logger.Info("Synthesized call record for missed START",
			zap.String("call_id", payload.CDRID),
			zap.String("trigger", payload.HookTrigger),
			zap.String("state", state),
		)
	}

	return &Transition{
		CallID:         payload.CDRID,
		To:             state,
		Created:        true,
		ShouldDispatch: state == StateEnded,
	}, nil
}

func (tracker *Tracker) applyToExisting(
	ctx context.Context,
	record *CallRecord,
	payload *event.WebhookPayload,
) (*Transition, error) {
	transition := &Transition{
		CallID: record.CallID,
		From:   record.State,
		To:     record.State,
	}

	// Terminal records never mutate; a replayed END after DISPATCHED or
	// FAILED is acknowledged and dropped.
	if record.Terminal() {
		transition.Ignored = true

		logging.Logger.Info("Ignoring event for terminal call record",
			zap.String("call_id", record.CallID),
			zap.String("trigger", payload.HookTrigger),
			zap.String("state", record.State),
		)

		return transition, nil
	}

	switch payload.HookTrigger {
	case event.TriggerStart:
		return tracker.applyStart(ctx, record, transition)
	case event.TriggerTalk:
		return tracker.applyTalk(ctx, record, transition)
	case event.TriggerEnd:
		return tracker.applyEnd(ctx, record, payload, transition)
	default:
		return nil, fmt.Errorf("unexpected trigger %q for call %s", payload.HookTrigger, record.CallID)
	}
}

func (tracker *Tracker) applyStart(
	ctx context.Context,
	record *CallRecord,
	transition *Transition,
) (*Transition, error) {
	if record.State != StateStarted {
		transition.Ignored = true

		logging.Logger.Info("Ignoring out-of-order START",
			zap.String("call_id", record.CallID),
			zap.String("state", record.State),
		)

		return transition, nil
	}

	transition.Duplicate = true

	return transition, tracker.touch(ctx, record.CallID)
}

func (tracker *Tracker) applyTalk(
	ctx context.Context,
	record *CallRecord,
	transition *Transition,
) (*Transition, error) {
	switch record.State {
	case StateStarted:
		transition.To = StateTalking

		return transition, tracker.Store.Updates(ctx, record.CallID, map[string]any{
			"state":         StateTalking,
			"last_event_at": time.Now(),
		})
	case StateTalking:
		transition.Duplicate = true

		return transition, tracker.touch(ctx, record.CallID)
	default:
		transition.Ignored = true

		logging.Logger.Info("Ignoring TALK after call already ended",
			zap.String("call_id", record.CallID),
			zap.String("state", record.State),
		)

		return transition, nil
	}
}

func (tracker *Tracker) applyEnd(
	ctx context.Context,
	record *CallRecord,
	payload *event.WebhookPayload,
	transition *Transition,
) (*Transition, error) {
	if record.State == StateEnded {
		// Duplicate END: the dispatch claim is the re-entrancy guard, so a
		// redelivery may safely retrigger dispatch for a not-yet-claimed call.
		transition.Duplicate = true
		transition.ShouldDispatch = record.DispatchedTaskID == nil

		return transition, tracker.touch(ctx, record.CallID)
	}

	endRecord := &CallRecord{CallID: record.CallID}
	applyEndFields(endRecord, payload)

	updates := map[string]any{
		"state":           StateEnded,
		"direction":       endRecord.Direction,
		"calling":         endRecord.Calling,
		"called":          endRecord.Called,
		"account_tags":    endRecord.AccountTags,
		"agent_extension": endRecord.AgentExtension,
		"agent_name":      endRecord.AgentName,
		"was_recorded":    endRecord.WasRecorded,
		"recording_url":   endRecord.RecordingURL,
		"duration":        endRecord.Duration,
		"last_payload":    endRecord.LastPayload,
		"ended_at":        endRecord.EndedAt,
		"last_event_at":   time.Now(),
	}

	err := tracker.Store.Updates(ctx, record.CallID, updates)
	if err != nil {
		return nil, err
	}

	transition.To = StateEnded
	transition.ShouldDispatch = true

	return transition, nil
}

func (tracker *Tracker) touch(ctx context.Context, callID string) error {
	return tracker.Store.Updates(ctx, callID, map[string]any{
		"last_event_at": time.Now(),
	})
}

// applyEndFields copies the authoritative END payload onto the record. The
// END delivery carries the full call detail, so its values win over anything
// captured from START or TALK.
func applyEndFields(record *CallRecord, payload *event.WebhookPayload) {
	record.State = StateEnded
	record.Direction = payload.Direction
	record.Calling = payload.Calling
	record.Called = payload.Called
	record.AccountTags = payload.AccountTags
	record.AgentExtension = payload.QueueAgentExtension
	record.AgentName = payload.QueueAgentName
	record.WasRecorded = payload.WasRecorded
	record.RecordingURL = payload.RecordingURL()
	record.Duration = payload.Duration
	record.LastEventAt = time.Now()

	endedAt := endTime(payload)
	record.EndedAt = &endedAt

	raw, err := json.Marshal(payload)
	if err == nil {
		record.LastPayload = datatypes.JSON(raw)
	}
}

// endTime derives the call end from dialtime + duration, falling back to the
// delivery time when dialtime is unparseable.
func endTime(payload *event.WebhookPayload) time.Time {
	dialTime, err := payload.DialTime()
	if err != nil {
		return time.Now()
	}

	return dialTime.Add(time.Duration(payload.Duration) * time.Second)
}
