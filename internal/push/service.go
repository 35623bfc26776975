package push

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"festival-sync-backend/internal/model"
	"festival-sync-backend/internal/store"
)

var (
	// ErrNotInitialized is returned when a delivery method is called on a
	// service that was never configured with VAPID keys.
	ErrNotInitialized = errors.New("push: delivery service not initialized")

	// ErrRateLimited is returned when a DeliverToAll initiation exceeds the
	// configured window cap. The call is dropped, never queued.
	ErrRateLimited = errors.New("push: delivery rate limit exceeded")
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Result summarizes one DeliverToAll or CleanupInvalidTargets pass.
type Result struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// Service delivers payloads to every registered delivery target.
type Service struct {
	store   store.Store
	webpush *webpush.Options
	sender  Sender
	limiter *rate.Limiter
}

// NewService creates an initialized delivery service. Returns an error when
// the VAPID keys are missing; delivery calls on a nil or unconfigured
// service report ErrNotInitialized instead of crashing.
func NewService(s store.Store, options *webpush.Options, window time.Duration, maxPerWindow int) (*Service, error) {
	if options == nil || options.VAPIDPublicKey == "" || options.VAPIDPrivateKey == "" {
		return nil, errors.New("push: VAPID keys must be configured")
	}
	if window <= 0 || maxPerWindow <= 0 {
		return nil, errors.New("push: delivery rate window and cap must be positive")
	}
	return &Service{
		store:   s,
		webpush: options,
		sender:  &WebPushSender{},
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(maxPerWindow)), maxPerWindow),
	}, nil
}

func (s *Service) initialized() bool {
	return s != nil && s.store != nil && s.webpush != nil && s.sender != nil
}

// DeliverToAll attempts delivery of payload to every registered target. Each
// send runs concurrently and independently; all outcomes are awaited. A
// target reporting permanent failure is deleted, any other failure is logged
// and the target retained.
func (s *Service) DeliverToAll(ctx context.Context, payload []byte) (Result, error) {
	if !s.initialized() {
		return Result{}, ErrNotInitialized
	}
	if !s.limiter.Allow() {
		log.Printf("push: dropping delivery, initiation cap reached")
		return Result{}, ErrRateLimited
	}
	return s.deliver(ctx, payload)
}

// CleanupInvalidTargets sweeps every target with a lightweight delivery and
// deletes those reporting permanent failure. Not subject to the initiation
// cap; it is an operator-triggered maintenance pass.
func (s *Service) CleanupInvalidTargets(ctx context.Context) (Result, error) {
	if !s.initialized() {
		return Result{}, ErrNotInitialized
	}
	return s.deliver(ctx, []byte(`{"type":"ping"}`))
}

func (s *Service) deliver(ctx context.Context, payload []byte) (Result, error) {
	targets, err := s.store.ListTargets(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{Total: len(targets)}
	if len(targets) == 0 {
		return result, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, target := range targets {
		wg.Add(1)
		go func(target model.DeliveryTarget) {
			defer wg.Done()
			outcome := s.deliverOne(ctx, target, payload)
			mu.Lock()
			switch outcome {
			case outcomeSent:
				result.Sent++
			case outcomeRemoved:
				result.Removed++
			case outcomeFailed:
				result.Failed++
			}
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	return result, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRemoved
	outcomeFailed
)

// deliverOne sends payload to a single target and classifies the response.
func (s *Service) deliverOne(ctx context.Context, target model.DeliveryTarget, payload []byte) outcome {
	sub := &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys: webpush.Keys{
			P256dh: target.P256DH,
			Auth:   target.Auth,
		},
	}

	resp, err := s.sender.Send(payload, sub, s.webpush)
	if err != nil {
		log.Printf("push: error sending to %s: %v", target.Endpoint, err)
		return outcomeFailed
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// The target is permanently gone. Deletion is idempotent.
		log.Printf("push: target %s is gone (%d), deleting", target.Endpoint, resp.StatusCode)
		if err := s.store.DeleteTarget(ctx, target.Endpoint); err != nil {
			log.Printf("push: failed to delete gone target %s: %v", target.Endpoint, err)
			return outcomeFailed
		}
		return outcomeRemoved
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeSent
	default:
		log.Printf("push: transient failure for %s: status %d", target.Endpoint, resp.StatusCode)
		return outcomeFailed
	}
}
