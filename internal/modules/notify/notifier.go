// README: Fire-and-forget FCM push service with an in-process queue.
package notify

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// Notifier is the outbound push contract: at-most-once, best-effort, no
// acknowledgment. Failures are logged, never returned to callers.
type Notifier interface {
	Push(token, title, body string, data map[string]string)
}

// MessagingClient is the slice of the FCM client the service uses.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type push struct {
	token string
	title string
	body  string
	data  map[string]string
}

// Service delivers pushes from a buffered queue so callers on the request
// path and in transactions never block on FCM. When the queue is full the
// message is dropped and logged; the contract is best-effort.
type Service struct {
	client MessagingClient
	queue  chan push
	log    *zap.Logger
}

const queueDepth = 256

func NewService(client MessagingClient, log *zap.Logger) *Service {
	return &Service{
		client: client,
		queue:  make(chan push, queueDepth),
		log:    log,
	}
}

func (s *Service) Push(token, title, body string, data map[string]string) {
	if token == "" {
		return
	}
	select {
	case s.queue <- push{token: token, title: title, body: body, data: data}:
	default:
		s.log.Warn("notification queue full, dropping push", zap.String("title", title))
	}
}

// Run drains the queue until ctx is cancelled. Start it once from main.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.queue:
			s.send(ctx, p)
		}
	}
}

func (s *Service) send(ctx context.Context, p push) {
	msg := &messaging.Message{
		Token: p.token,
		Notification: &messaging.Notification{
			Title: p.title,
			Body:  p.body,
		},
		Data: p.data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_importance_channel",
			},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		s.log.Warn("fcm send failed", zap.String("title", p.title), zap.Error(err))
	}
}
