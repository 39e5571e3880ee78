package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/models"
)

func startHub(t *testing.T, provider func() interface{}) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(provider)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatalf("client channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubSendsInitThenBroadcasts(t *testing.T) {
	hub := startHub(t, func() interface{} {
		return &models.CapacitySnapshot{FreeSpaces: 5}
	})

	client := NewClient(hub, nil)
	client.Register()

	if msg := receive(t, client); msg.Type != MsgTypeInit {
		t.Fatalf("expected init message, got %s", msg.Type)
	}
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}

	hub.BroadcastFreeSpaces(&models.CapacitySnapshot{FreeSpaces: 4})
	msg := receive(t, client)
	if msg.Type != MsgTypeFreeSpaces {
		t.Fatalf("expected free_spaces message, got %s", msg.Type)
	}
	data, _ := json.Marshal(msg.Data)
	if string(data) != `{"freeParkingSpaces":4}` {
		t.Fatalf("unexpected payload %s", data)
	}

	client.Unregister()
	if _, ok := <-client.send; ok {
		t.Fatalf("expected send channel to be closed after unregister")
	}
}

func TestHubSkipsNilInitData(t *testing.T) {
	hub := startHub(t, func() interface{} { return nil })

	client := NewClient(hub, nil)
	client.Register()
	hub.BroadcastMessage(MsgTypeFreeSpaces, &models.CapacitySnapshot{FreeSpaces: 1})

	if msg := receive(t, client); msg.Type != MsgTypeFreeSpaces {
		t.Fatalf("expected broadcast without init, got %s", msg.Type)
	}
}

func TestHubStoppedRejectsClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	connected := NewClient(hub, nil)
	if !connected.Register() {
		t.Fatalf("expected register to succeed while hub runs")
	}
	cancel()

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
	if _, ok := <-connected.send; ok {
		t.Fatalf("expected send channel to be closed on shutdown")
	}

	returned := make(chan bool, 1)
	go func() {
		late := NewClient(hub, nil)
		ok := late.Register()
		late.Unregister()
		connected.Unregister()
		returned <- ok
	}()

	select {
	case ok := <-returned:
		if ok {
			t.Fatalf("expected register to fail after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatalf("register or unregister blocked after shutdown")
	}
}
