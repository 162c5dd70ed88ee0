package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestNotifierPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedTitle string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedTitle = r.Header.Get("Title")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	msg := CompletionMessage(10, 10, "")
	if err := New(client, "http://example.com/asktoai").Notify(ctx, msg); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/asktoai"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedTitle, "Ask to AI"; got != want {
		t.Fatalf("title = %q; want %q", got, want)
	}
	if got, want := receivedBody, msg; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	n := New(nil, "  ")
	if n != nil {
		t.Fatalf("New() with empty endpoint = %v; want nil", n)
	}
	if err := n.Notify(context.Background(), "x"); err != nil {
		t.Fatalf("Notify() on nil = %v; want nil", err)
	}
}

func TestCompletionMessage(t *testing.T) {
	if got := CompletionMessage(3, 10, "grok"); !strings.Contains(got, "stopped at grok after 3 of 10") {
		t.Fatalf("CompletionMessage() = %q", got)
	}
	if got := CompletionMessage(10, 10, ""); !strings.Contains(got, "all 10 services") {
		t.Fatalf("CompletionMessage() = %q", got)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	ctx := context.Background()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(ctx, client, "http://example.com/notifications", "x")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	err := Send(context.Background(), http.DefaultClient, "", "x")
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
