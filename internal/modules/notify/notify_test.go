// README: Push service tests: queue drain, drop-when-full, message shape.
package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

type fakeMessaging struct {
	mu   sync.Mutex
	sent []*messaging.Message
}

func (f *fakeMessaging) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return "msg-id", nil
}

func (f *fakeMessaging) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestPush_DeliveredAfterRun(t *testing.T) {
	client := &fakeMessaging{}
	svc := NewService(client, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	svc.Push("tok-1", "Shipment open for booking", "SH001 is open",
		map[string]string{"shipment_id": "SH001", "type": "broadcast"})

	deadline := time.After(2 * time.Second)
	for client.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("push never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	client.mu.Lock()
	msg := client.sent[0]
	client.mu.Unlock()
	if msg.Token != "tok-1" {
		t.Errorf("expected token tok-1, got %s", msg.Token)
	}
	if msg.Notification == nil || msg.Notification.Title != "Shipment open for booking" {
		t.Errorf("unexpected notification: %+v", msg.Notification)
	}
	if msg.Data["shipment_id"] != "SH001" || msg.Data["type"] != "broadcast" {
		t.Errorf("expected data payload preserved, got %v", msg.Data)
	}
	if msg.Android == nil || msg.Android.Priority != "high" {
		t.Errorf("expected high-priority android config")
	}
}

func TestPush_EmptyTokenIgnored(t *testing.T) {
	svc := NewService(&fakeMessaging{}, zap.NewNop())
	svc.Push("", "title", "body", nil)
	select {
	case <-svc.queue:
		t.Error("empty token must not enqueue")
	default:
	}
}

// A full queue drops instead of blocking the caller.
func TestPush_FullQueueNeverBlocks(t *testing.T) {
	svc := NewService(&fakeMessaging{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueDepth+10; i++ {
			svc.Push("tok", "title", "body", nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked on a full queue")
	}
	if len(svc.queue) != queueDepth {
		t.Errorf("expected queue capped at %d, got %d", queueDepth, len(svc.queue))
	}
}
