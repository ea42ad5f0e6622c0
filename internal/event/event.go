package event

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TriggerStart = "START"
	TriggerTalk  = "TALK"
	TriggerEnd   = "END"
)

var ErrInvalidDialTime = errors.New("dialtime does not match any supported layout")

// dialtime arrives in whatever format the PBX template was configured with.
var dialTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
}

// WebhookPayload mirrors the Anura templetized event variables.
// Unknown fields are tolerated; only the correlation-relevant subset is bound.
type WebhookPayload struct {
	HookTrigger string `json:"hooktrigger" binding:"required" validate:"required"`
	HookName    string `json:"hookname"`

	CDRID       string `json:"cdrid"    binding:"required" validate:"required"`
	DialTimeRaw string `json:"dialtime" binding:"required" validate:"required"`
	Direction   string `json:"direction"`
	Calling     string `json:"calling"`
	CallingName string `json:"callingname"`
	Called      string `json:"called"`
	CalledName  string `json:"calledname"`
	Status      string `json:"status"`

	Duration    int     `json:"duration"`
	BillSeconds int     `json:"billseconds"`
	Price       float64 `json:"price"`

	WasRecorded  bool   `json:"wasrecorded"`
	AudioFileMP3 string `json:"audio_file_mp3"`
	AudioFileOGG string `json:"audio_file_ogg"`
	AudioFileWAV string `json:"audio_file_wav"`

	QueueName           string `json:"queuename"`
	QueueAgentName      string `json:"queueagentname"`
	QueueAgentExtension string `json:"queueagentextension"`

	TenantID    int    `json:"tenantid"`
	AccountID   int    `json:"accountid"`
	AccountName string `json:"accountname"`
	AccountTags string `json:"accounttags"`

	Custom1 string `json:"custom1"`
	Custom2 string `json:"custom2"`
	Custom3 string `json:"custom3"`
}

var payloadValidator = validator.New()

// Validate normalizes the trigger and rejects payloads the tracker must never see.
func (p *WebhookPayload) Validate() error {
	p.HookTrigger = strings.ToUpper(strings.TrimSpace(p.HookTrigger))

	err := payloadValidator.Struct(p)
	if err != nil {
		return err
	}

	err = payloadValidator.Var(p.HookTrigger, "oneof=START TALK END")
	if err != nil {
		return err
	}

	_, err = p.DialTime()

	return err
}

// DialTime parses the raw dialtime against the supported layouts.
func (p *WebhookPayload) DialTime() (time.Time, error) {
	for _, layout := range dialTimeLayouts {
		t, err := time.Parse(layout, p.DialTimeRaw)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidDialTime
}

// RecordingURL picks the preferred downloadable artifact, mp3 first.
func (p *WebhookPayload) RecordingURL() string {
	for _, u := range []string{p.AudioFileMP3, p.AudioFileWAV, p.AudioFileOGG} {
		if u != "" {
			return u
		}
	}

	return ""
}
