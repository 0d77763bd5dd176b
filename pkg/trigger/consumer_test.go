package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/events"
)

func TestDecode(t *testing.T) {
	packed, err := msgpack.Marshal(map[string]any{"path": "/data/a.csv", "job_id": "j-1", "top_n": 5})
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   []byte
		headers []kafka.Header
		want    DatasetReady
		wantErr bool
	}{
		{
			name:  "json without header",
			value: []byte(`{"path":"/data/a.csv","job_id":"j-1"}`),
			want:  DatasetReady{Path: "/data/a.csv", JobID: "j-1"},
		},
		{
			name:    "msgpack by header",
			value:   packed,
			headers: []kafka.Header{{Key: "Content-Type", Value: []byte("application/x-msgpack")}},
			want:    DatasetReady{Path: "/data/a.csv", JobID: "j-1", TopN: 5},
		},
		{
			name:    "msgpack without header is read as json",
			value:   packed,
			wantErr: true,
		},
		{
			name:    "missing path",
			value:   []byte(`{"job_id":"j-1"}`),
			wantErr: true,
		},
		{
			name:    "negative top n",
			value:   []byte(`{"path":"/data/a.csv","top_n":-1}`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.value, tt.headers)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMessage)
				assert.True(t, errs.IsDataFormat(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	in := DatasetReady{Path: "/data/b.csv", JobID: "j-2", TopN: 3}
	for _, ct := range []string{ContentTypeJSON, ContentTypeMsgpack} {
		value, headers, err := Encode(in, ct)
		require.NoError(t, err)
		out, err := Decode(value, headers)
		require.NoError(t, err, ct)
		assert.Equal(t, in, out, ct)
	}

	_, _, err := Encode(in, "text/plain")
	assert.Error(t, err)
}

// fakeReader hands out queued messages, then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumer_DispatchesAndSkipsInvalid(t *testing.T) {
	value, headers, err := Encode(DatasetReady{Path: "/data/c.csv", JobID: "j-3"}, ContentTypeMsgpack)
	require.NoError(t, err)

	reader := &fakeReader{queue: []kafka.Message{
		{Topic: "dataset.ready", Offset: 1, Value: []byte(`not json`)},
		{Topic: "dataset.ready", Offset: 2, Value: value, Headers: headers},
	}}

	bus := events.NewBus()
	got := make(chan events.Event, 2)
	bus.Subscribe(events.DatasetUploaded, "capture", func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewConsumerWithReader(reader, bus, "dataset.ready").Serve(ctx) }()

	select {
	case e := <-got:
		assert.Equal(t, "/data/c.csv", e.String(events.PayloadPath))
		assert.Equal(t, "j-3", e.String(events.PayloadJobID))
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, reader.commits(), "invalid messages are committed and skipped")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, reader.closed)
	assert.Empty(t, got, "the invalid message produced no event")
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, string, map[string]any) error {
	return errors.New("launcher stopped")
}

func TestConsumer_HandlerFailureDoesNotStopConsumption(t *testing.T) {
	value, _, err := Encode(DatasetReady{Path: "/data/d.csv"}, ContentTypeJSON)
	require.NoError(t, err)
	reader := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: value}, {Offset: 8, Value: value}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewConsumerWithReader(reader, failingNotifier{}, "dataset.ready").Serve(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate(), "disabled consumer needs no brokers")

	cfg := DefaultConfig()
	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Brokers = nil
	assert.Error(t, cfg.Validate())

	_, err := NewConsumer(cfg, events.NewBus())
	assert.Error(t, err)
}
