package ingress

import (
	"context"
	"errors"
	"net/http"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/event"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	prometheusKuiil "git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/prometheus"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// TaskDispatcher emits the downstream task for an ended call.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, callID string) error
}

type WebhookHandler struct {
	Tracker    *call.Tracker
	Dispatcher TaskDispatcher
	WorkerPool *ants.Pool
}

func NewWebhookHandler(tracker *call.Tracker, dispatcher TaskDispatcher, pool *ants.Pool) *WebhookHandler {
	return &WebhookHandler{
		Tracker:    tracker,
		Dispatcher: dispatcher,
		WorkerPool: pool,
	}
}

// Handle accepts one PBX webhook delivery. The response acknowledges
// receipt only; dispatching runs on the worker pool off the request path.
func (h *WebhookHandler) Handle(c *gin.Context) {
	var payload event.WebhookPayload

	err := c.ShouldBindJSON(&payload)
	if err != nil {
		prometheusKuiil.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})

		return
	}

	err = payload.Validate()
	if err != nil {
		logging.Logger.Warn("Webhook payload rejected",
			zap.String("call_id", payload.CDRID),
			zap.String("trigger", payload.HookTrigger),
			zap.String("error", err.Error()),
		)
		prometheusKuiil.WebhookEventsTotal.WithLabelValues(payload.HookTrigger, "rejected").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	transition, err := h.Tracker.Apply(c.Request.Context(), &payload)
	if err != nil {
		logging.Logger.Error("Failed to apply webhook event",
			zap.String("call_id", payload.CDRID),
			zap.String("trigger", payload.HookTrigger),
			zap.String("error", err.Error()),
		)
		prometheusKuiil.WebhookEventsTotal.WithLabelValues(payload.HookTrigger, "error").Inc()
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})

		return
	}

	prometheusKuiil.WebhookEventsTotal.WithLabelValues(payload.HookTrigger, outcome(transition)).Inc()

	if transition.ShouldDispatch {
		h.scheduleDispatch(transition.CallID)
	}

	c.JSON(http.StatusOK, gin.H{
		"call_id": transition.CallID,
		"state":   transition.To,
	})
}

func (h *WebhookHandler) scheduleDispatch(callID string) {
	err := h.WorkerPool.Submit(func() {
		err := h.Dispatcher.Dispatch(context.Background(), callID)
		if err != nil {
			logging.Logger.Error("Dispatch failed",
				zap.String("call_id", callID),
				zap.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			logging.Logger.Warn("Worker pool overloaded, dispatch left to the redispatch sweep",
				zap.String("call_id", callID),
			)

			return
		}

		logging.Logger.Error("Failed to submit dispatch job",
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)
	}
}

func outcome(transition *call.Transition) string {
	switch {
	case transition.Ignored:
		return "ignored"
	case transition.Duplicate:
		return "duplicate"
	case transition.Created:
		return "created"
	default:
		return "applied"
	}
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
