package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/summit-bot/internal/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestClient(hub *Hub, id string) *Client {
	return &Client{
		id:     id,
		hub:    hub,
		send:   make(chan []byte, 8),
		logger: hub.logger,
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.id)
	}
	return Message{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishRoutesByTopic(t *testing.T) {
	hub := newTestHub(t)
	bracket := newTestClient(hub, "bracket")
	board := newTestClient(hub, "board")
	hub.Register(bracket)
	hub.Register(board)
	hub.Subscribe(bracket, "tournament:spring-open")
	hub.Subscribe(board, TopicLeaderboard)
	waitFor(t, func() bool {
		return hub.GetSubscriberCount("tournament:spring-open") == 1 && hub.GetSubscriberCount(TopicLeaderboard) == 1
	})

	hub.Publish(context.Background(), domain.NewEvent(domain.EventRoundAdvanced, "tournament:spring-open", nil))
	msg := receive(t, bracket)
	if msg.Type != domain.EventRoundAdvanced || msg.Topic != "tournament:spring-open" {
		t.Errorf("unexpected message %+v", msg)
	}

	hub.Publish(context.Background(), domain.NewEvent(domain.EventRatingUpdated, "12345", nil))
	msg = receive(t, board)
	if msg.Topic != TopicLeaderboard {
		t.Errorf("rating events should go to the leaderboard topic, got %q", msg.Topic)
	}

	select {
	case <-bracket.send:
		t.Error("bracket subscriber should not receive leaderboard events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastQueue(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, "queue")
	hub.Register(c)
	hub.Subscribe(c, TopicQueue)
	waitFor(t, func() bool { return hub.GetSubscriberCount(TopicQueue) == 1 })

	hub.BroadcastQueue(3)
	msg := receive(t, c)
	if msg.Type != MessageTypeQueueUpdate {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	data, _ := json.Marshal(msg.Data)
	var update QueueUpdate
	json.Unmarshal(data, &update)
	if update.Waiting != 3 {
		t.Errorf("waiting = %d", update.Waiting)
	}
}

func TestUnregisterDropsSubscriptions(t *testing.T) {
	hub := newTestHub(t)
	c := newTestClient(hub, "gone")
	hub.Register(c)
	hub.Subscribe(c, TopicQueue)
	waitFor(t, func() bool { return hub.GetSubscriberCount(TopicQueue) == 1 })

	hub.Unregister(c)
	waitFor(t, func() bool { return hub.GetTotalConnections() == 0 })
	if hub.GetSubscriberCount(TopicQueue) != 0 {
		t.Error("subscription should be removed with the client")
	}
}

func TestValidTopic(t *testing.T) {
	tests := map[string]bool{
		"leaderboard":    true,
		"queue":          true,
		"tournament:cup": true,
		"tournament:":    false,
		"":               false,
		"something-else": false,
	}
	for topic, want := range tests {
		if got := validTopic(topic); got != want {
			t.Errorf("validTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}
