package call

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound           = errors.New("call record not found")
	ErrInvalidCallRecordResult  = errors.New("invalid result type, it should be pointer to CallRecord struct")
	ErrInvalidRowsAffectedValue = errors.New("invalid result type, it should be int64 rows affected")
	ErrInvalidCallIDsResult     = errors.New("invalid result type, it should be slice of call ids")
)

// RecordStore is the persistence contract the tracker and dispatcher operate
// against. The gorm-backed CallRepository is the production implementation.
type RecordStore interface {
	Get(ctx context.Context, callID string) (*CallRecord, error)
	Create(ctx context.Context, record *CallRecord) error
	Updates(ctx context.Context, callID string, updates map[string]any) error
	ClaimDispatch(ctx context.Context, callID, taskID, objectKey, originalFilename string) (bool, error)
	MarkFailed(ctx context.Context, callID, reason string) error
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	StalledEnded(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

type CallRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewCallRepository(dbConn *gorm.DB) *CallRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &CallRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// Get retrieves a CallRecord by its callID.
func (callRepository *CallRepository) Get(ctx context.Context, callID string) (*CallRecord, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		var record CallRecord

		// The raw gorm not-found error crosses the breaker untouched so
		// its IsSuccessful check can tell a miss from a database fault.
		err := callRepository.DBConn.WithContext(ctx).
			Where("call_id = ?", callID).
			First(&record).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logging.Logger.Error("[Get] Failed to fetch call record - may cause circuit breaker trip",
					zap.String("call_id", callID),
					zap.String("error", err.Error()),
					zap.Bool("is_context_error", ctx.Err() != nil),
				)
			}

			return nil, err
		}

		return &record, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}

	if err != nil {
		return nil, err
	}

	record, ok := result.(*CallRecord)
	if !ok {
		return nil, ErrInvalidCallRecordResult
	}

	return record, nil
}

func (callRepository *CallRepository) Create(ctx context.Context, record *CallRecord) error {
	_, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		err := callRepository.DBConn.WithContext(ctx).Create(record).Error
		if err != nil {
			logging.Logger.Error("[Create] Failed to create call record",
				zap.String("call_id", record.CallID),
				zap.String("state", record.State),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return record, nil
	})

	return err
}

func (callRepository *CallRepository) Updates(ctx context.Context, callID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	_, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		err := callRepository.DBConn.WithContext(ctx).
			Model(&CallRecord{}).
			Where("call_id = ?", callID).
			Updates(updates).Error
		if err != nil {
			logging.Logger.Error("[Updates] Failed to update call record",
				zap.String("call_id", callID),
				zap.Any("updates", updates),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return nil, nil
	})

	return err
}

// ClaimDispatch is the idempotency barrier: a conditional update that only
// succeeds while dispatched_task_id is still unset. Exactly one concurrent
// dispatcher wins; the rest observe claimed=false.
func (callRepository *CallRepository) ClaimDispatch(
	ctx context.Context,
	callID, taskID, objectKey, originalFilename string,
) (bool, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		tx := callRepository.DBConn.WithContext(ctx).
			Model(&CallRecord{}).
			Where("call_id = ? AND dispatched_task_id IS NULL AND state <> ?", callID, StateFailed).
			Updates(map[string]any{
				"dispatched_task_id":   taskID,
				"recording_object_key": objectKey,
				"original_filename":    originalFilename,
				"state":                StateDispatched,
				"fail_reason":          "",
				"last_event_at":        time.Now(),
			})
		if tx.Error != nil {
			logging.Logger.Error("[ClaimDispatch] Failed to claim dispatch",
				zap.String("call_id", callID),
				zap.String("task_id", taskID),
				zap.String("error", tx.Error.Error()),
			)

			return nil, tx.Error
		}

		return tx.RowsAffected, nil
	})
	if err != nil {
		return false, err
	}

	rowsAffected, ok := result.(int64)
	if !ok {
		return false, ErrInvalidRowsAffectedValue
	}

	return rowsAffected == 1, nil
}

// MarkFailed transitions a non-terminal record to FAILED with a reason code.
func (callRepository *CallRepository) MarkFailed(ctx context.Context, callID, reason string) error {
	_, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		err := callRepository.DBConn.WithContext(ctx).
			Model(&CallRecord{}).
			Where("call_id = ? AND state NOT IN ?", callID, []string{StateDispatched, StateFailed}).
			Updates(map[string]any{
				"state":         StateFailed,
				"fail_reason":   reason,
				"last_event_at": time.Now(),
			}).Error
		if err != nil {
			logging.Logger.Error("[MarkFailed] Failed to mark call record failed",
				zap.String("call_id", callID),
				zap.String("reason", reason),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return nil, nil
	})

	return err
}

// StalledEnded lists calls stuck in ENDED with no claimed dispatch, for
// example when the worker pool rejected the dispatch job and no duplicate
// END ever arrived to retrigger it.
func (callRepository *CallRepository) StalledEnded(
	ctx context.Context,
	olderThan time.Time,
	limit int,
) ([]string, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		var callIDs []string

		err := callRepository.DBConn.WithContext(ctx).
			Model(&CallRecord{}).
			Where("state = ? AND dispatched_task_id IS NULL AND last_event_at < ?", StateEnded, olderThan).
			Limit(limit).
			Pluck("call_id", &callIDs).Error
		if err != nil {
			logging.Logger.Error("[StalledEnded] Failed to list stalled call records",
				zap.Time("older_than", olderThan),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return callIDs, nil
	})
	if err != nil {
		return nil, err
	}

	callIDs, ok := result.([]string)
	if !ok {
		return nil, ErrInvalidCallIDsResult
	}

	return callIDs, nil
}

// PurgeTerminalBefore deletes terminal records older than the cutoff.
func (callRepository *CallRepository) PurgeTerminalBefore(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	result, err := callRepository.CircuitBreaker.Execute(func() (any, error) {
		tx := callRepository.DBConn.WithContext(ctx).
			Where("state IN ? AND last_event_at < ?", []string{StateDispatched, StateFailed}, cutoff).
			Delete(&CallRecord{})
		if tx.Error != nil {
			logging.Logger.Error("[PurgeTerminalBefore] Failed to purge call records",
				zap.Time("cutoff", cutoff),
				zap.String("error", tx.Error.Error()),
			)

			return nil, tx.Error
		}

		return tx.RowsAffected, nil
	})
	if err != nil {
		return 0, err
	}

	rowsAffected, ok := result.(int64)
	if !ok {
		return 0, ErrInvalidRowsAffectedValue
	}

	return rowsAffected, nil
}
