package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"festival-sync-backend/internal/hub"
	"festival-sync-backend/internal/notify"
	"festival-sync-backend/internal/push"
	"festival-sync-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	webpush  *webpush.Options
	hub      *hub.Hub
	delivery *push.Service
	notifier *notify.Notifier
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, webpushOptions *webpush.Options, h *hub.Hub, d *push.Service, n *notify.Notifier) *Handler {
	return &Handler{
		store:    s,
		webpush:  webpushOptions,
		hub:      h,
		delivery: d,
		notifier: n,
	}
}
