package call

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StateStarted    = "STARTED"
	StateTalking    = "TALKING"
	StateEnded      = "ENDED"
	StateDispatched = "DISPATCHED"
	StateFailed     = "FAILED"
)

const (
	FailReasonNoRecording          = "NoRecording"
	FailReasonRecordingFetchFailed = "RecordingFetchFailed"
	FailReasonDeadlineExceeded     = "DeadlineExceeded"
)

// CallRecord is the per-call correlation row. It is owned by the Tracker for
// the whole lifecycle; the dispatcher only reads it and writes the terminal
// fields through the repository.
type CallRecord struct {
	CallID             string         `gorm:"column:call_id;type:varchar(255);primaryKey;not null" json:"call_id"`
	State              string         `gorm:"column:state;type:varchar(20);not null"               json:"state"`
	FailReason         string         `gorm:"column:fail_reason;type:varchar(50)"                  json:"fail_reason"`
	Direction          string         `gorm:"column:direction;type:varchar(20)"                    json:"direction"`
	Calling            string         `gorm:"column:calling;type:varchar(50)"                      json:"calling"`
	Called             string         `gorm:"column:called;type:varchar(50)"                       json:"called"`
	AccountTags        string         `gorm:"column:account_tags;type:text"                        json:"account_tags"`
	AgentExtension     string         `gorm:"column:agent_extension;type:varchar(50)"              json:"agent_extension"`
	AgentName          string         `gorm:"column:agent_name;type:varchar(255)"                  json:"agent_name"`
	WasRecorded        bool           `gorm:"column:was_recorded"                                  json:"was_recorded"`
	RecordingURL       string         `gorm:"column:recording_url;type:text"                       json:"recording_url"`
	RecordingObjectKey string         `gorm:"column:recording_object_key;type:text"                json:"recording_object_key"`
	OriginalFilename   string         `gorm:"column:original_filename;type:varchar(255)"           json:"original_filename"`
	DispatchedTaskID   *string        `gorm:"column:dispatched_task_id;type:varchar(36)"           json:"dispatched_task_id"`
	Duration           int            `gorm:"column:duration"                                      json:"duration"`
	LastPayload        datatypes.JSON `gorm:"column:last_payload;type:jsonb"                       json:"last_payload"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"                     json:"created_at"`
	LastEventAt        time.Time      `gorm:"column:last_event_at"                                 json:"last_event_at"`
	EndedAt            *time.Time     `gorm:"column:ended_at"                                      json:"ended_at"`
}

func (CallRecord) TableName() string {
	return "webhook_calls"
}

// Terminal reports whether no further state transition may occur.
func (r *CallRecord) Terminal() bool {
	return r.State == StateDispatched || r.State == StateFailed
}
