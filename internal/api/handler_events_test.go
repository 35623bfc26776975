package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"festival-sync-backend/internal/hub"
	"festival-sync-backend/internal/notify"
)

func setupEventRouter(t *testing.T) (*gin.Engine, *notify.Notifier) {
	gin.SetMode(gin.TestMode)

	broadcastHub := hub.New()
	// Workers are not started: jobs stay observable on the channel.
	notifier := notify.NewNotifier(broadcastHub, nil, 1, 4)
	handler := NewHandler(nil, nil, broadcastHub, nil, notifier)

	r := gin.New()
	r.POST("/api/events", handler.PublishEvent)
	return r, notifier
}

func TestPublishEventQueuesDelivery(t *testing.T) {
	router, notifier := setupEventRouter(t)

	body := bytes.NewBufferString(`{"topic":"announcement.created","payload":{"id":9}}`)
	req, _ := http.NewRequest(http.MethodPost, "/api/events", body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case event := <-notifier.Jobs():
		assert.Equal(t, "announcement.created", event.Topic)
		assert.JSONEq(t, `{"id":9}`, string(event.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued push job")
	}
}

func TestPublishEventRequiresTopic(t *testing.T) {
	router, _ := setupEventRouter(t)

	req, _ := http.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString(`{"payload":{}}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishEventDropsWhenQueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)

	notifier := notify.NewNotifier(hub.New(), nil, 1, 1)
	handler := NewHandler(nil, nil, hub.New(), nil, notifier)
	r := gin.New()
	r.POST("/api/events", handler.PublishEvent)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString(`{"topic":"t"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		// Domain operations never fail because the push queue is full.
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
	assert.Len(t, notifier.Jobs(), 1)
}
