package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/mapping"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/operator"
	prometheusKuiil "git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/recording"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type CampaignVerifier interface {
	Exists(ctx context.Context, campaignID int) (bool, error)
}

type OperatorDirectory interface {
	EnsureOperator(ctx context.Context, extension int, name string) (*operator.Operator, error)
}

type RecordingFetcher interface {
	Fetch(ctx context.Context, recordingURL, callID string) (*recording.FetchResult, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, buffer *bytes.Buffer, objectKey string) (string, error)
}

type Dispatcher struct {
	Records   call.RecordStore
	Campaigns CampaignVerifier
	Operators OperatorDirectory
	Fetcher   RecordingFetcher
	Storage   ObjectStore
	Queue     TaskQueue
	Resolver  *mapping.Resolver
}

func NewDispatcher(
	records call.RecordStore,
	campaigns CampaignVerifier,
	operators OperatorDirectory,
	fetcher RecordingFetcher,
	storage ObjectStore,
	queue TaskQueue,
) *Dispatcher {
	return &Dispatcher{
		Records:   records,
		Campaigns: campaigns,
		Operators: operators,
		Fetcher:   fetcher,
		Storage:   storage,
		Queue:     queue,
		Resolver:  mapping.NewResolver(config.Conf.DefaultCampaignID, config.Conf.DefaultOperatorID),
	}
}

// Dispatch emits the task for an ended call. The conditional update on
// dispatched_task_id makes concurrent dispatches for the same call
// settle on a single winner.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, callID string) error {
	timer := prometheus.NewTimer(prometheusKuiil.DispatchDuration)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.Conf.DispatchDeadline)*time.Second)
	defer cancel()

	record, err := dispatcher.Records.Get(ctx, callID)
	if err != nil {
		return err
	}

	if record.DispatchedTaskID != nil {
		logging.Logger.Info("Call already dispatched, skipping",
			zap.String("call_id", callID),
			zap.String("task_id", *record.DispatchedTaskID),
		)
		prometheusKuiil.TasksDispatchedTotal.WithLabelValues("conflict").Inc()

		return nil
	}

	if record.State == call.StateFailed {
		return nil
	}

	task := NewTask(callID)
	task.Direction = record.Direction
	task.Calling = record.Calling
	task.Called = record.Called
	task.Duration = record.Duration
	task.AgentName = record.AgentName
	task.WasRecorded = record.WasRecorded

	err = dispatcher.resolveParties(ctx, record, task)
	if err != nil {
		return err
	}

	done, err := dispatcher.prepareRecording(ctx, record, task)
	if err != nil || done {
		return err
	}

	claimed, err := dispatcher.Records.ClaimDispatch(
		ctx, callID, task.TaskID, task.ObjectKey, task.OriginalFilename,
	)
	if err != nil {
		return err
	}

	if !claimed {
		logging.Logger.Info("Dispatch conflict, another writer won",
			zap.String("call_id", callID),
			zap.String("task_id", task.TaskID),
		)
		prometheusKuiil.TasksDispatchedTotal.WithLabelValues("conflict").Inc()

		return nil
	}

	err = dispatcher.Queue.Submit(ctx, task)
	if err != nil {
		// The claim already went through; the producer circuit breaker
		// escalates persistent submit failures to a process restart.
		logging.Logger.Error("Failed to submit task after claim",
			zap.String("call_id", callID),
			zap.String("task_id", task.TaskID),
			zap.String("error", err.Error()),
		)
		prometheusKuiil.TasksDispatchedTotal.WithLabelValues("error").Inc()

		return err
	}

	logging.Logger.Info("Task dispatched",
		zap.String("call_id", callID),
		zap.String("task_id", task.TaskID),
		zap.Int("campaign_id", task.CampaignID),
		zap.Int("operator_id", task.OperatorID),
	)
	prometheusKuiil.TasksDispatchedTotal.WithLabelValues("dispatched").Inc()

	return nil
}

// resolveParties maps the raw account tags and agent extension onto
// campaign and operator ids, verifying both against the database.
func (dispatcher *Dispatcher) resolveParties(ctx context.Context, record *call.CallRecord, task *Task) error {
	result := dispatcher.Resolver.Resolve(record.AccountTags, record.AgentExtension)

	task.CampaignID = result.CampaignID
	task.OperatorID = result.OperatorID
	task.CampaignResolution = result.CampaignResolution
	task.OperatorResolution = result.OperatorResolution

	group, groupCtx := errgroup.WithContext(ctx)

	if result.CampaignResolution == mapping.ResolutionExact {
		group.Go(func() error {
			exists, err := dispatcher.Campaigns.Exists(groupCtx, result.CampaignID)
			if err != nil {
				return err
			}

			if !exists {
				campaignID, resolution := dispatcher.Resolver.FallbackCampaign()
				task.CampaignID = campaignID
				task.CampaignResolution = resolution

				logging.Logger.Warn("Tagged campaign not found",
					zap.String("call_id", record.CallID),
					zap.Int("campaign_id", result.CampaignID),
				)
			}

			return nil
		})
	}

	if result.OperatorResolution == mapping.ResolutionExact {
		group.Go(func() error {
			op, err := dispatcher.Operators.EnsureOperator(groupCtx, result.OperatorID, record.AgentName)
			if err != nil {
				return err
			}

			task.OperatorID = op.ID

			return nil
		})
	}

	return group.Wait()
}

// prepareRecording downloads and stores the call recording. It returns
// done=true when the dispatch attempt has reached a terminal outcome.
func (dispatcher *Dispatcher) prepareRecording(ctx context.Context, record *call.CallRecord, task *Task) (bool, error) {
	if !record.WasRecorded || record.RecordingURL == "" {
		if config.Conf.NoRecordingPolicy == config.NoRecordingPolicyFail {
			logging.Logger.Warn("Call has no recording, failing per policy",
				zap.String("call_id", record.CallID),
			)
			prometheusKuiil.TasksDispatchedTotal.WithLabelValues("failed").Inc()

			return true, dispatcher.Records.MarkFailed(ctx, record.CallID, call.FailReasonNoRecording)
		}

		return false, nil
	}

	result, err := dispatcher.Fetcher.Fetch(ctx, record.RecordingURL, record.CallID)
	if err != nil {
		return true, dispatcher.failRecording(ctx, record.CallID, err)
	}

	ext := recording.Extension(result.ContentType, record.RecordingURL)
	task.ObjectKey = recording.ObjectKey(record.CallID, ext)
	task.OriginalFilename = recording.OriginalFilename(callStart(record), record.Calling, ext)

	_, err = dispatcher.Storage.Upload(ctx, result.Body, task.ObjectKey)
	if err != nil {
		err = fmt.Errorf("%w: %w", recording.ErrStorageWrite, err)

		return true, dispatcher.failRecording(ctx, record.CallID, err)
	}

	return false, nil
}

func (dispatcher *Dispatcher) failRecording(ctx context.Context, callID string, cause error) error {
	reason := call.FailReasonRecordingFetchFailed
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = call.FailReasonDeadlineExceeded
	}

	logging.Logger.Error("Recording pipeline failed",
		zap.String("call_id", callID),
		zap.String("reason", reason),
		zap.String("error", cause.Error()),
	)
	prometheusKuiil.TasksDispatchedTotal.WithLabelValues("failed").Inc()

	// The dispatch context may already be expired.
	return dispatcher.Records.MarkFailed(context.WithoutCancel(ctx), callID, reason)
}

func callStart(record *call.CallRecord) time.Time {
	if record.EndedAt != nil {
		return record.EndedAt.Add(-time.Duration(record.Duration) * time.Second)
	}

	return record.CreatedAt
}
