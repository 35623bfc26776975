package internal

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"festival-sync-backend/config"
	"festival-sync-backend/internal/api"
	"festival-sync-backend/internal/client"
	"festival-sync-backend/internal/hub"
	"festival-sync-backend/internal/model"
	"festival-sync-backend/internal/notify"
	"festival-sync-backend/internal/push"
	"festival-sync-backend/internal/store"
)

// genClientKeys produces a valid browser-style subscription key pair: an
// uncompressed P-256 public point and a 16-byte auth secret.
func genClientKeys(t *testing.T) (p256dh, auth string) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	authBytes := make([]byte, 16)
	_, err = rand.Read(authBytes)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(authBytes)
}

// TestSyncAndDeliveryLifecycle wires the whole subsystem together: a live
// websocket client receives a broadcast, an enrolled offline target receives
// a push, and a target that reports gone is pruned.
func TestSyncAndDeliveryLifecycle(t *testing.T) {
	// 1. In-memory database and store.
	testDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()
	require.NoError(t, testDB.AutoMigrate(&model.DeliveryTarget{}, &model.Owner{}))
	appStore := store.NewGormStore(testDB)

	// 2. Real VAPID keys so deliveries go through the actual webpush path.
	privKey, pubKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  pubKey,
		VAPIDPrivateKey: privKey,
		Subscriber:      "mailto:ops@festival.example",
		TTL:             60,
	}

	// 3. Hub, delivery service and notifier.
	broadcastHub := hub.New()
	deliverySvc, err := push.NewService(appStore, &webpushOptions, time.Hour, 100)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := notify.NewNotifier(broadcastHub, deliverySvc, 2, 16)
	notifier.Start(ctx)

	// 4. HTTP surface.
	cfg := &config.Config{}
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.CacheTTLSeconds = 1
	cfg.Hub.WriteTimeout = time.Second
	router := api.NewRouter(cfg, appStore, &webpushOptions, broadcastHub, deliverySvc, notifier)
	appServer := httptest.NewServer(router)
	defer appServer.Close()

	// 5. A stand-in push provider. It flips to "gone" partway through.
	var (
		pushesReceived atomic.Int32
		providerStatus atomic.Int32
	)
	providerStatus.Store(http.StatusCreated)
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushesReceived.Add(1)
		w.WriteHeader(int(providerStatus.Load()))
	}))
	defer provider.Close()

	postJSON := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, appServer.URL+path, bytes.NewBufferString(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// --- Enroll an offline-capable delivery target ---
	p256dh, auth := genClientKeys(t)
	enrollBody, _ := json.Marshal(map[string]string{
		"endpoint": provider.URL + "/send/abc",
		"p256dh":   p256dh,
		"auth":     auth,
		"owner_id": "attendee-1",
	})
	resp := postJSON(http.MethodPut, "/api/push/targets", string(enrollBody))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// --- Connect a live client ---
	events := make(chan client.Event, 8)
	cm := client.NewConnectionManager(client.ConnOptions{
		URL: "ws" + strings.TrimPrefix(appServer.URL, "http") + "/api/ws",
	})
	cm.AddListener(&client.Listener{OnMessage: func(e client.Event) { events <- e }})
	cm.Initialize("attendee-1")
	defer cm.Disconnect()
	require.Eventually(t, func() bool { return broadcastHub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// --- The status monitor sees a healthy backend ---
	monitor := client.NewServerStatusMonitor(client.MonitorOptions{
		ProbeURL:       appServer.URL + "/healthz",
		SteadyInterval: time.Hour,
		MinProbeGap:    time.Millisecond,
	})
	cancelMonitor := monitor.Subscribe(func(client.Status) {})
	defer cancelMonitor()
	require.Eventually(t, func() bool { return monitor.Status().IsOnline }, 2*time.Second, 10*time.Millisecond)

	// --- A domain mutation fans out over both paths ---
	resp = postJSON(http.MethodPost, "/api/events", `{"topic":"announcement.created","payload":{"id":1}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case event := <-events:
		assert.Equal(t, "announcement.created", event.Topic)
		assert.JSONEq(t, `{"id":1}`, string(event.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("live client did not receive the broadcast")
	}

	require.Eventually(t, func() bool { return pushesReceived.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	count, err := appStore.CountTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// --- The target reports gone and is pruned on the next delivery ---
	providerStatus.Store(http.StatusGone)
	resp = postJSON(http.MethodPost, "/api/events", `{"topic":"announcement.created","payload":{"id":2}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		n, err := appStore.CountTargets(context.Background())
		return err == nil && n == 0
	}, 3*time.Second, 20*time.Millisecond)

	// Diagnostics still show the one live connection.
	diag, err := http.Get(appServer.URL + "/api/admin/connections")
	require.NoError(t, err)
	defer diag.Body.Close()
	var diagBody struct {
		Connections []hub.ConnectionInfo `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(diag.Body).Decode(&diagBody))
	require.Len(t, diagBody.Connections, 1)
	assert.Equal(t, "attendee-1", diagBody.Connections[0].Identity)
	assert.Equal(t, "open", diagBody.Connections[0].ReadyState)
}

// TestCleanupEndpoint exercises the operator maintenance sweep end to end.
func TestCleanupEndpoint(t *testing.T) {
	testDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()
	require.NoError(t, testDB.AutoMigrate(&model.DeliveryTarget{}, &model.Owner{}))
	appStore := store.NewGormStore(testDB)

	privKey, pubKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  pubKey,
		VAPIDPrivateKey: privKey,
		Subscriber:      "mailto:ops@festival.example",
		TTL:             60,
	}

	deadProvider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer deadProvider.Close()
	liveProvider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer liveProvider.Close()

	p256dh, auth := genClientKeys(t)
	for _, endpoint := range []string{deadProvider.URL + "/a", liveProvider.URL + "/b"} {
		require.NoError(t, appStore.UpsertTarget(context.Background(), model.DeliveryTarget{
			Endpoint: endpoint,
			P256DH:   p256dh,
			Auth:     auth,
		}, ""))
	}

	deliverySvc, err := push.NewService(appStore, &webpushOptions, time.Hour, 100)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.RateLimitPerSec = 1000
	cfg.Hub.WriteTimeout = time.Second
	router := api.NewRouter(cfg, appStore, &webpushOptions, hub.New(), deliverySvc, notify.NewNotifier(hub.New(), deliverySvc, 1, 4))
	appServer := httptest.NewServer(router)
	defer appServer.Close()

	resp, err := http.Post(appServer.URL+"/api/admin/push/cleanup", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Total   int `json:"total"`
		Removed int `json:"removed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Removed)

	count, err := appStore.CountTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
