// Package push delivers Web Push notifications signed with VAPID keys.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/pkg/domain"
	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrSubscriptionGone means the push service no longer knows the
// subscription and it should be deleted.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Notification is the JSON payload the service worker shows.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// NotificationFor builds the payload for a queued push job. The tag groups
// repeated pushes for the same record on the device.
func NotificationFor(job domain.PushJob) Notification {
	return Notification{
		Title: job.Title,
		Body:  job.Body,
		URL:   job.URL,
		Tag:   string(job.Kind) + ":" + job.RefID,
		Kind:  string(job.Kind),
	}
}

// Keys is a VAPID key pair, base64url encoded.
type Keys struct {
	PublicKey  string
	PrivateKey string
}

// GenerateKeys creates a fresh VAPID key pair.
func GenerateKeys() (Keys, error) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return Keys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return Keys{PublicKey: public, PrivateKey: private}, nil
}

type Config struct {
	Keys Keys
	// Subscriber is the contact (mailto address or URL) sent to push services.
	Subscriber string
	TTL        time.Duration
	HTTPClient *http.Client
}

// Sender sends notifications to individual subscriptions.
type Sender struct {
	keys       Keys
	subscriber string
	ttl        int
	httpClient *http.Client
}

func NewSender(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Keys.PublicKey) == "" || strings.TrimSpace(cfg.Keys.PrivateKey) == "" {
		return nil, errors.New("vapid key pair required")
	}
	if strings.TrimSpace(cfg.Subscriber) == "" {
		return nil, errors.New("vapid subscriber required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sender{
		keys:       cfg.Keys,
		subscriber: strings.TrimSpace(cfg.Subscriber),
		ttl:        int(ttl.Seconds()),
		httpClient: client,
	}, nil
}

// PublicKey is handed to browsers as the applicationServerKey.
func (s *Sender) PublicKey() string {
	return s.keys.PublicKey
}

// Send encrypts n for sub and posts it. 404 and 410 map to
// ErrSubscriptionGone; other non-2xx statuses are plain errors.
func (s *Sender) Send(ctx context.Context, sub domain.PushSubscription, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.subscriber,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("push service status %d", resp.StatusCode)
	}
	return nil
}
