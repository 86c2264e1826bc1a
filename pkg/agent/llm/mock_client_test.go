package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient(t *testing.T) {
	testErr := errors.New("test error")
	client := NewMockClient("mock-model",
		MockResponse{Content: "response1"},
		MockResponse{Err: testErr},
	)

	t.Run("Complete returns responses in order", func(t *testing.T) {
		resp, err := client.Complete(context.Background(), CompletionRequest{Model: "a"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if resp.Content != "response1" {
			t.Errorf("got %q, want %q", resp.Content, "response1")
		}

		_, err = client.Complete(context.Background(), CompletionRequest{Model: "b"})
		if !errors.Is(err, testErr) {
			t.Errorf("got %v, want %v", err, testErr)
		}

		_, err = client.Complete(context.Background(), CompletionRequest{})
		if err == nil {
			t.Error("expected error when responses are exhausted")
		}
	})

	t.Run("requests are recorded", func(t *testing.T) {
		reqs := client.Requests()
		if len(reqs) != 3 {
			t.Fatalf("got %d requests, want 3", len(reqs))
		}
		if reqs[1].Model != "b" {
			t.Errorf("got model %q, want %q", reqs[1].Model, "b")
		}
	})
}

func TestMockClientStream(t *testing.T) {
	client := NewMockClient("mock-model", MockResponse{Chunks: []string{"a", "b", "c"}})

	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got string
	var done bool
	for chunk := range stream {
		got += chunk.Content
		done = chunk.Done
	}
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
	if !done {
		t.Error("last chunk should be marked done")
	}
}

func TestMockClientStreamCancel(t *testing.T) {
	client := NewMockClient("mock-model", MockResponse{Chunks: []string{"a", "b", "c"}})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Stream(ctx, CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-stream
	cancel()

	// the producer must exit and close the channel
	for range stream { //nolint:revive // drain
	}
}

func TestMockClientDroppedStream(t *testing.T) {
	client := NewMockClient("mock-model", MockResponse{Chunks: []string{"a", "b"}, Dropped: true})

	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for chunk := range stream {
		if chunk.Done {
			t.Error("dropped stream must not send a done chunk")
		}
	}
}

func TestMockClientStopReason(t *testing.T) {
	client := NewMockClient("mock-model", MockResponse{Content: "x"}, MockResponse{Content: "y", StopReason: "length"})

	first, err := client.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.StopReason != "stop" {
		t.Errorf("got stop reason %q, want %q", first.StopReason, "stop")
	}

	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var last StreamChunk
	for chunk := range stream {
		last = chunk
	}
	if !last.Done || last.StopReason != "length" {
		t.Errorf("got final chunk %+v, want done with stop reason length", last)
	}
}
