package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

type notificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// StoreSink persists notifications so they survive restarts and can be
// listed per space.
type StoreSink struct {
	db notificationStore
}

func NewStoreSink(db notificationStore) *StoreSink {
	return &StoreSink{db: db}
}

func (s *StoreSink) Write(ctx context.Context, n *model.Notification) error {
	return s.db.CreateNotification(ctx, n)
}

type broadcaster interface {
	Broadcast(data []byte)
}

// SocketSink pushes notifications to connected websocket clients.
type SocketSink struct {
	hub broadcaster
}

func NewSocketSink(hub broadcaster) *SocketSink {
	return &SocketSink{hub: hub}
}

func (s *SocketSink) Write(_ context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	s.hub.Broadcast(data)
	return nil
}

// WebhookSink posts each notification to an external endpoint.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(url string) *WebhookSink {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &WebhookSink{client: client, url: url}
}

func (s *WebhookSink) Write(ctx context.Context, n *model.Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}
