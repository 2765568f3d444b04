package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/ecohaat/internal/domain"
)

type memoryStore struct {
	mu       sync.Mutex
	inserted []domain.Notification
	admins   []string
	emails   map[string]string
	failFor  string
}

func (s *memoryStore) Insert(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.UserID == s.failFor {
		return errors.New("insert failed")
	}
	n.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, *n)
	return nil
}

func (s *memoryStore) AdminIDs(context.Context) ([]string, error) {
	return s.admins, nil
}

func (s *memoryStore) Email(_ context.Context, userID string) (string, error) {
	return s.emails[userID], nil
}

func (s *memoryStore) snapshot() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.inserted...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	keys   []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, event.(domain.NotificationEvent))
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestDispatcher_Deliver(t *testing.T) {
	t.Run("buyer notification publishes with resolved email", func(t *testing.T) {
		store := &memoryStore{emails: map[string]string{"buyer-1": "buyer@example.com"}}
		pub := &recordingPublisher{}
		d, err := NewDispatcher(store, pub, newTestLogger(), 4, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		d.deliver(context.Background(), Request{
			Kind:        domain.NotifyBuyerOrderStatus,
			RecipientID: "buyer-1",
			Title:       "Order confirmed",
			OrderID:     7,
			OrderNumber: "EH-20240131-001",
			Status:      domain.StatusConfirmed,
		})

		if got := store.snapshot(); len(got) != 1 || got[0].UserID != "buyer-1" {
			t.Fatalf("expected one in-app row for buyer-1, got %+v", got)
		}
		if len(pub.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(pub.events))
		}
		if pub.events[0].Email != "buyer@example.com" {
			t.Errorf("expected email buyer@example.com, got %q", pub.events[0].Email)
		}
		if pub.keys[0] != "7" {
			t.Errorf("expected key 7, got %q", pub.keys[0])
		}
	})

	t.Run("admin notification fans out in-app and publishes once", func(t *testing.T) {
		store := &memoryStore{admins: []string{"admin-1", "admin-2"}}
		pub := &recordingPublisher{}
		d, _ := NewDispatcher(store, pub, newTestLogger(), 4, 1)

		d.deliver(context.Background(), Request{Kind: domain.NotifyAdminOrderStatus, OrderID: 3})

		if got := store.snapshot(); len(got) != 2 {
			t.Errorf("expected 2 in-app rows, got %d", len(got))
		}
		if len(pub.events) != 1 || pub.events[0].Email != "" {
			t.Errorf("expected one admin event without email, got %+v", pub.events)
		}
	})

	t.Run("recipient without email gets no event", func(t *testing.T) {
		store := &memoryStore{emails: map[string]string{}}
		pub := &recordingPublisher{}
		d, _ := NewDispatcher(store, pub, newTestLogger(), 4, 1)

		d.deliver(context.Background(), Request{Kind: domain.NotifySellerPayout, RecipientID: "seller-1", OrderID: 1})

		if len(store.snapshot()) != 1 {
			t.Error("expected in-app row to be written")
		}
		if len(pub.events) != 0 {
			t.Errorf("expected no events, got %d", len(pub.events))
		}
	})

	t.Run("insert failure does not stop publishing", func(t *testing.T) {
		store := &memoryStore{emails: map[string]string{"buyer-1": "b@example.com"}, failFor: "buyer-1"}
		pub := &recordingPublisher{}
		d, _ := NewDispatcher(store, pub, newTestLogger(), 4, 1)

		d.deliver(context.Background(), Request{Kind: domain.NotifyBuyerOrderStatus, RecipientID: "buyer-1", OrderID: 1})

		if len(pub.events) != 1 {
			t.Errorf("expected event despite insert failure, got %d", len(pub.events))
		}
	})
}

func TestDispatcher_EnqueueDropsWhenFull(t *testing.T) {
	d, err := NewDispatcher(&memoryStore{}, nil, newTestLogger(), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !d.Enqueue(Request{RecipientID: "a"}) {
		t.Fatal("expected first request to be queued")
	}
	if d.Enqueue(Request{RecipientID: "b"}) {
		t.Error("expected second request to be dropped")
	}
}

func TestDispatcher_Run(t *testing.T) {
	store := &memoryStore{}
	d, _ := NewDispatcher(store, nil, newTestLogger(), 8, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"u1", "u2", "u3"} {
		d.Enqueue(Request{Kind: domain.NotifyBuyerOrderStatus, RecipientID: id})
	}

	deadline := time.After(2 * time.Second)
	for len(store.snapshot()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 deliveries, got %d", len(store.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}

func TestDispatcher_RunDrainsQueueOnStop(t *testing.T) {
	store := &memoryStore{}
	d, _ := NewDispatcher(store, nil, newTestLogger(), 8, 2)

	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		if !d.Enqueue(Request{Kind: domain.NotifyBuyerOrderStatus, RecipientID: id}) {
			t.Fatalf("expected %s to be queued", id)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if got := len(store.snapshot()); got != 4 {
		t.Errorf("expected 4 deliveries after stop, got %d", got)
	}
	if len(d.queue) != 0 {
		t.Errorf("expected empty queue, got %d", len(d.queue))
	}
}
