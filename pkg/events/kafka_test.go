package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"integram/pkg/stream"
)

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "integram.rows"}); err == nil {
		t.Fatal("expected error when brokers are missing")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}); err == nil {
		t.Fatal("expected error when topic is missing")
	}
}

func TestNewKafkaPublisherTrimsBrokerList(t *testing.T) {
	t.Parallel()

	p, err := NewKafkaPublisher(KafkaConfig{
		Brokers: []string{" ", "127.0.0.1:9092", "\t"},
		Topic:   "integram.rows",
	})
	if err != nil {
		t.Fatalf("expected valid publisher config, got error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestPublisherGuards(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	if err := nilPub.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got: %v", err)
	}
	if err := nilPub.Publish(context.Background(), "crm15", stream.Event{}); err == nil {
		t.Fatal("expected publish error for nil publisher")
	}
	if err := (&Publisher{}).Publish(context.Background(), "crm15", stream.Event{}); err == nil {
		t.Fatal("expected publish error for uninitialized writer")
	}
}

type fakeKafkaWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, msgs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func (f *fakeKafkaWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestPublishKeysByDatabase(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{}
	p := &Publisher{writer: w}
	evt := stream.NewRowEvent(stream.EventRowCreated, "crm15", "_d_new", 101, 100, 41, "Acme Inc")
	if err := p.Publish(context.Background(), "crm15", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "crm15" {
		t.Fatalf("key = %q", w.msgs[0].Key)
	}
	var decoded stream.Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.Type != stream.EventRowCreated {
		t.Fatalf("type = %q", decoded.Type)
	}
}

func TestPublishWriterError(t *testing.T) {
	t.Parallel()

	p := &Publisher{writer: &fakeKafkaWriter{err: errors.New("broker down")}}
	if err := p.Publish(context.Background(), "crm15", stream.Event{Type: "x"}); err == nil {
		t.Fatal("expected writer error")
	}
}

func TestMirrorForwardsUntilCancel(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{}
	p := &Publisher{writer: w}
	hub := stream.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Mirror(ctx, "crm15", hub)
		close(done)
	}()
	// Subscription happens inside Mirror; give it a moment by publishing
	// until the writer sees a message.
	evt := stream.NewEvent("row.updated", nil)
	for i := 0; i < 200; i++ {
		hub.Publish(evt)
		if w.count() > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if w.count() == 0 {
		t.Fatal("mirror forwarded nothing")
	}
}
