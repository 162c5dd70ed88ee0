package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerPublishDropsWhenFull(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d; want 1", got)
	}

	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Event{Kind: KindDeliveryStart})
	}
	if got := len(ch); got != subscriberBufSize {
		t.Fatalf("buffered = %d; want %d", got, subscriberBufSize)
	}

	b.Unsubscribe(id)
	if got := b.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() after unsubscribe = %d; want 0", got)
	}
	b.Unsubscribe(id)
}

func TestBrokerStampsTime(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()
	b.Publish(Event{Kind: KindAskDone, RunID: "r1"})
	evt := <-ch
	if evt.At.IsZero() {
		t.Fatal("Publish() left At zero")
	}
}

func TestSSEHandlerFilters(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?kinds=delivery.done&run_id=r2", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q; want text/event-stream", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(Event{Kind: KindDeliveryStart, RunID: "r2", Service: "claude"})
	b.Publish(Event{Kind: KindDeliveryDone, RunID: "r1", Service: "claude"})
	b.Publish(Event{Kind: KindDeliveryDone, RunID: "r2", Service: "gemini"})

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if event != "event: delivery.done\n" {
		t.Fatalf("event line = %q", event)
	}
	data, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(data, `"service":"gemini"`) || !strings.Contains(data, `"run_id":"r2"`) {
		t.Fatalf("data line = %q", data)
	}
}
