package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/record"
)

func sampleOutcome() record.Outcome {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return record.Outcome{
		TaskID:     "task-1",
		Type:       "transfer",
		Priority:   3,
		Sequence:   7,
		Status:     record.StatusSucceeded,
		Result:     json.RawMessage(`{"hash":"0xabc"}`),
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "cbor"} {
		codec, err := NewCodec(name)
		if err != nil {
			t.Fatalf("new codec %s: %v", name, err)
		}
		event := envelope("did:eliza:agent", sampleOutcome())
		body, err := codec.Encode(event)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		var decoded Event
		if err := codec.Decode(body, &decoded); err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if decoded.Kind != KindTaskDispatched || decoded.Agent != "did:eliza:agent" {
			t.Fatalf("%s: unexpected envelope %+v", name, decoded)
		}
		if decoded.Outcome.TaskID != "task-1" || decoded.Outcome.Sequence != 7 || !decoded.Outcome.FinishedAt.Equal(event.Outcome.FinishedAt) {
			t.Fatalf("%s: unexpected outcome %+v", name, decoded.Outcome)
		}
	}
	if _, err := NewCodec("xml"); err == nil {
		t.Fatal("expected unknown codec to fail")
	}
}

func TestCBORCodecIsDeterministic(t *testing.T) {
	event := envelope("did:eliza:agent", sampleOutcome())
	first, err := CBORCodec{}.Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := CBORCodec{}.Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected identical encodings for identical events")
	}
}

func TestMemoryPublisher(t *testing.T) {
	publisher := NewMemoryPublisher("did:eliza:agent", 1)
	ctx := context.Background()
	if err := publisher.Record(ctx, sampleOutcome()); err != nil {
		t.Fatalf("record: %v", err)
	}

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := publisher.Record(full, sampleOutcome()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected full buffer to honour context, got %v", err)
	}

	event := <-publisher.Events()
	if event.Outcome.TaskID != "task-1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-publisher.Events(); ok {
		t.Fatal("expected channel to be closed")
	}
	if err := publisher.Record(ctx, sampleOutcome()); err == nil {
		t.Fatal("expected record after close to fail")
	}
}

type fakeRedis struct {
	redis.Cmdable
	mu        sync.Mutex
	lists     map[string][][]byte
	published map[string][][]byte
	trims     int
	fail      bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{lists: map[string][][]byte{}, published: map[string][][]byte{}}
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	for _, v := range values {
		f.lists[key] = append([][]byte{v.([]byte)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trims++
	if int64(len(f.lists[key])) > stop+1 {
		f.lists[key] = f.lists[key][start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], message.([]byte))
	return redis.NewIntResult(1, nil)
}

func TestRedisPublisher(t *testing.T) {
	client := newFakeRedis()
	publisher := NewRedisPublisher(client, RedisConfig{List: "outcomes", MaxLen: 2, Channel: "outcomes.live"},
		Options{Agent: "did:eliza:agent", Codec: CBORCodec{}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := publisher.Record(ctx, sampleOutcome()); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if len(client.lists["outcomes"]) != 2 || client.trims != 3 {
		t.Fatalf("expected list to be trimmed to 2, got %d entries after %d trims", len(client.lists["outcomes"]), client.trims)
	}
	if len(client.published["outcomes.live"]) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(client.published["outcomes.live"]))
	}
	var event Event
	if err := (CBORCodec{}).Decode(client.lists["outcomes"][0], &event); err != nil {
		t.Fatalf("decode stored event: %v", err)
	}
	if event.Outcome.TaskID != "task-1" {
		t.Fatalf("unexpected stored event %+v", event)
	}

	client.fail = true
	if err := publisher.Record(ctx, sampleOutcome()); !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("expected QUEUE_FAILURE, got %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("close without owned client: %v", err)
	}
}

type fakeChannel struct {
	published []amqp.Publishing
	exchange  string
	key       string
	closed    bool
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQPublisher(t *testing.T) {
	ch := &fakeChannel{}
	publisher := newRabbitMQPublisher(ch, RabbitMQConfig{Exchange: "elizadid", Durable: true}, "outcomes", Options{Agent: "did:eliza:agent"})

	if err := publisher.Record(context.Background(), sampleOutcome()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(ch.published) != 1 || ch.exchange != "elizadid" || ch.key != "outcomes" {
		t.Fatalf("unexpected publish: %+v", ch)
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.MessageId != "task-1" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected message headers: %+v", msg)
	}
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if event.Kind != KindTaskDispatched {
		t.Fatalf("unexpected kind %s", event.Kind)
	}

	ch.err = errors.New("channel closed")
	if err := publisher.Record(context.Background(), sampleOutcome()); !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("expected QUEUE_FAILURE, got %v", err)
	}
	if err := publisher.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel to be closed, err=%v", err)
	}
}
