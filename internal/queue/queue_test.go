package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	exchanges  []string
	queues     map[string]amqp091.Table
	published  []published
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{queues: map[string]amqp091.Table{}}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	f.queues[name] = args
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error { f.acks++; return nil }
func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}
func (f *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

func TestSetupQueues(t *testing.T) {
	ch := newFakeChannel()
	if err := SetupQueues(ch, Queues); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !reflect.DeepEqual(ch.exchanges, []string{"pubsub_exchange:topic"}) {
		t.Fatalf("expected topic exchange, got %v", ch.exchanges)
	}
	for _, name := range []string{"truth_table_queue", "truth_table_queue_dlq", "truth_table_queue_retry"} {
		if _, ok := ch.queues[name]; !ok {
			t.Fatalf("expected queue %s to be declared", name)
		}
	}
	retry := ch.queues["truth_table_queue_retry"]
	if retry["x-dead-letter-routing-key"] != TruthTableQueue || retry["x-message-ttl"] != int32(10000) {
		t.Fatalf("unexpected retry queue args %v", retry)
	}
}

func TestPublishTruthTableJob(t *testing.T) {
	ch := newFakeChannel()
	run := &store.Run{
		ID:      "r1",
		GraphID: "speaker",
		Options: truthtable.GenerateOptions{VaryObservations: []string{"No Music"}},
		Format:  truthtable.FormatCSV,
	}
	if err := PublishTruthTableJob(context.Background(), ch, run); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(ch.published))
	}
	p := ch.published[0]
	if p.exchange != "" || p.key != TruthTableQueue || p.msg.DeliveryMode != amqp091.Persistent {
		t.Fatalf("unexpected publishing %+v", p)
	}

	var job TruthTableJob
	if err := json.Unmarshal(p.msg.Body, &job); err != nil {
		t.Fatalf("expected valid json, got %v", err)
	}
	want := TruthTableJob{RunID: "r1", GraphID: "speaker", Options: run.Options, Format: truthtable.FormatCSV}
	if !reflect.DeepEqual(job, want) {
		t.Fatalf("expected %+v, got %+v", want, job)
	}
}

func TestPublishCompleted(t *testing.T) {
	ch := newFakeChannel()
	run := &store.Run{ID: "r1", GraphID: "speaker", Status: store.RunCompleted, Summary: &truthtable.Summary{Total: 2, Verified: 2}}
	if err := PublishCompleted(context.Background(), ch, run); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p := ch.published[0]
	if p.exchange != Exchange || p.key != CompletedTopic {
		t.Fatalf("unexpected routing %s/%s", p.exchange, p.key)
	}
	var ev CompletedEvent
	if err := json.Unmarshal(p.msg.Body, &ev); err != nil {
		t.Fatalf("expected valid json, got %v", err)
	}
	if ev.Status != store.RunCompleted || ev.Summary == nil || ev.Summary.Verified != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp091.Table
		want    int
	}{
		{name: "missing", headers: nil, want: 0},
		{name: "int32", headers: amqp091.Table{"x-retries": int32(3)}, want: 3},
		{name: "int64", headers: amqp091.Table{"x-retries": int64(4)}, want: 4},
		{name: "int", headers: amqp091.Table{"x-retries": 5}, want: 5},
		{name: "wrong type", headers: amqp091.Table{"x-retries": "7"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retries(tt.headers); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHandleFailure(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		wantQueue    string
		wantRetries  int32
		deadLettered bool
	}{
		{name: "first failure", retries: 0, wantQueue: "truth_table_queue_retry", wantRetries: 1, deadLettered: false},
		{name: "still retrying", retries: 9, wantQueue: "truth_table_queue_retry", wantRetries: 10, deadLettered: false},
		{name: "exhausted", retries: 10, wantQueue: "truth_table_queue_dlq", wantRetries: 10, deadLettered: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			ack := &fakeAck{}
			msg := amqp091.Delivery{
				Acknowledger: ack,
				Body:         []byte(`{"run_id":"r1"}`),
				Headers:      amqp091.Table{"x-retries": int32(tt.retries)},
			}

			dead, err := HandleFailure(context.Background(), ch, msg, TruthTableQueue)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if dead != tt.deadLettered {
				t.Fatalf("expected deadLettered %v, got %v", tt.deadLettered, dead)
			}
			if ack.acks != 1 {
				t.Fatalf("expected original to be acked once, got %d", ack.acks)
			}
			if len(ch.published) != 1 || ch.published[0].key != tt.wantQueue {
				t.Fatalf("expected publish to %s, got %+v", tt.wantQueue, ch.published)
			}
			if got := Retries(ch.published[0].msg.Headers); got != int(tt.wantRetries) {
				t.Fatalf("expected %d retries, got %d", tt.wantRetries, got)
			}
			if Retries(msg.Headers) != tt.retries {
				t.Fatalf("expected original headers untouched")
			}
		})
	}
}

func TestHandleFailureRequeuesWhenPublishFails(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	ack := &fakeAck{}
	msg := amqp091.Delivery{Acknowledger: ack, Body: []byte("{}")}

	_, err := HandleFailure(context.Background(), ch, msg, TruthTableQueue)
	if !errors.Is(err, ch.publishErr) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if ack.nacks != 1 || !ack.requeued || ack.acks != 0 {
		t.Fatalf("expected a requeueing nack, got %+v", ack)
	}
}
