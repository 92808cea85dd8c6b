package handlers

import (
	"context"
	"net/http"

	"drivesync/application"
	"drivesync/logging"
)

// NotificationHandler processes webhook deliveries. NotificationService implements it.
type NotificationHandler interface {
	Handle(ctx context.Context, notifications []application.ChangeNotification) application.NotificationResult
}

// notificationEnvelope is the body Graph posts to the notification URL.
type notificationEnvelope struct {
	Value []application.ChangeNotification `json:"value"`
}

// WebhookHandlers receives change and lifecycle notifications.
type WebhookHandlers struct {
	notifications NotificationHandler
	logger        *logging.Logger
}

// NewWebhookHandlers creates the webhook receiver.
func NewWebhookHandlers(notifications NotificationHandler) *WebhookHandlers {
	return &WebhookHandlers{
		notifications: notifications,
		logger:        logging.Default().WithComponent("webhook_handler"),
	}
}

// Receive answers the subscription validation handshake or processes a notification batch.
// Rejected entries still get 202 so senders learn nothing about which subscriptions exist.
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(token))
		h.logger.Debug("Answered subscription validation")
		return
	}

	var envelope notificationEnvelope
	if err := decodeJSON(w, r, &envelope); err != nil {
		RenderError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(envelope.Value) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// The sender may hang up once it has its 202; the work must not stop with it.
	ctx := context.WithoutCancel(r.Context())
	result := h.notifications.Handle(ctx, envelope.Value)

	logger := h.logger.WithContext(r.Context())
	logger.Info("Webhook delivery processed",
		"notifications", len(envelope.Value),
		"triggered", result.Triggered,
		"renewed", result.Renewed,
		"recrawled", result.Recrawled,
		"rejected", result.Rejected,
		"unknown", result.Unknown,
		"failed", result.Failed)

	RenderJSON(w, http.StatusAccepted, result)
}
