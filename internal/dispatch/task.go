package dispatch

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/mapping"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type TaskParams struct {
	Language string `json:"language"`
	Model    string `json:"model"`
	Device   string `json:"device"`
}

// Task is the message emitted for every ended call. TaskID doubles as
// the idempotency token stored on the call record.
type Task struct {
	TaskID             string             `json:"task_id"`
	SourceCallID       string             `json:"source_call_id"`
	CampaignID         int                `json:"campaign_id"`
	OperatorID         int                `json:"operator_id"`
	CampaignResolution mapping.Resolution `json:"campaign_resolution"`
	OperatorResolution mapping.Resolution `json:"operator_resolution"`
	Direction          string             `json:"direction"`
	Calling            string             `json:"calling"`
	Called             string             `json:"called"`
	Duration           int                `json:"duration"`
	AgentName          string             `json:"agent_name,omitempty"`
	WasRecorded        bool               `json:"was_recorded"`
	ObjectKey          string             `json:"object_key,omitempty"`
	OriginalFilename   string             `json:"original_filename,omitempty"`
	TaskParams         TaskParams         `json:"task_params"`
	RequestedAt        time.Time          `json:"requested_at"`
}

func NewTask(sourceCallID string) *Task {
	return &Task{
		TaskID:       uuid.New().String(),
		SourceCallID: sourceCallID,
		TaskParams: TaskParams{
			Language: config.Conf.TaskLanguage,
			Model:    config.Conf.TaskModel,
			Device:   config.Conf.TaskDevice,
		},
		RequestedAt: time.Now().UTC(),
	}
}

// TaskQueue publishes tasks to the downstream processing pipeline.
type TaskQueue interface {
	Submit(ctx context.Context, task *Task) error
}

type KafkaTaskQueue struct {
	Producer *kafka.Producer
	Topic    string
}

func NewKafkaTaskQueue(producer *kafka.Producer) *KafkaTaskQueue {
	return &KafkaTaskQueue{
		Producer: producer,
		Topic:    config.Conf.KafkaTaskTopic,
	}
}

// Submit publishes the task keyed by source call id, so all tasks for
// one call land on the same partition.
func (q *KafkaTaskQueue) Submit(ctx context.Context, task *Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	_, _, err = q.Producer.SendMessage(q.Topic, []byte(task.SourceCallID), payload)

	return err
}
