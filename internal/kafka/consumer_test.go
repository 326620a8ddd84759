package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu       sync.Mutex
	queue    []kafka.Message
	commits  []kafka.Message
	onCommit func(kafka.Message)
	closed   bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		if f.onCommit != nil {
			f.onCommit(m)
		}
		f.commits = append(f.commits, m)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeReader) committed(topic string, part int) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, m := range f.commits {
		if m.Topic == topic && m.Partition == part {
			out = append(out, m.Offset)
		}
	}
	return out
}

func msg(topic string, part int, off int64, key string) kafka.Message {
	return kafka.Message{Topic: topic, Partition: part, Offset: off, Key: []byte(key)}
}

func startConsumer(t *testing.T, r *fakeReader, h Handler) (cancel func()) {
	t.Helper()
	c := &Consumer{r: r, workers: 2, backoff: time.Millisecond, maxBackoff: 5 * time.Millisecond}
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx, h) }()
	return func() {
		stop()
		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	var mu sync.Mutex
	attempts := map[int64]int{}
	handled := map[int64]bool{}

	r := &fakeReader{queue: []kafka.Message{
		msg("order.placed", 0, 10, "a"),
		msg("order.placed", 0, 11, "b"),
	}}
	var early []int64
	r.onCommit = func(m kafka.Message) {
		mu.Lock()
		defer mu.Unlock()
		if !handled[10] {
			early = append(early, m.Offset)
		}
	}

	stop := startConsumer(t, r, func(ctx context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 10 && attempts[10] <= 2 {
			return errors.New("redis down")
		}
		handled[m.Offset] = true
		return nil
	})

	require.Eventually(t, func() bool {
		c := r.committed("order.placed", 0)
		return len(c) > 0 && c[len(c)-1] == 11
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts[10])
	assert.Equal(t, 1, attempts[11])
	assert.Empty(t, early, "offsets committed before offset 10 was handled")

	c := r.committed("order.placed", 0)
	for i := 1; i < len(c); i++ {
		assert.Greater(t, c[i], c[i-1])
	}
	assert.True(t, r.closed)
}

// otherWorkerKey returns a key that startConsumer's two workers route away from key.
func otherWorkerKey(key string) string {
	for i := 0; ; i++ {
		k := fmt.Sprintf("k%d", i)
		if xxhash.Sum64String(k)%2 != xxhash.Sum64String(key)%2 {
			return k
		}
	}
}

func TestConsumerStuckPartitionDoesNotBlockOthers(t *testing.T) {
	other := otherWorkerKey("a")
	r := &fakeReader{queue: []kafka.Message{
		msg("order.placed", 0, 10, "a"),
		msg("order.placed", 0, 11, other),
		msg("order.placed", 1, 5, other),
	}}
	stop := startConsumer(t, r, func(ctx context.Context, m kafka.Message) error {
		if m.Partition == 0 && m.Offset == 10 {
			return errors.New("poison")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(r.committed("order.placed", 1)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	// 11 sudah selesai tapi 10 belum; partisi 0 tidak boleh di-commit
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, r.committed("order.placed", 0))
	stop()

	assert.Empty(t, r.committed("order.placed", 0))
	assert.Equal(t, []int64{5}, r.committed("order.placed", 1))
}

func TestOffsetTrackerIgnoresRedelivery(t *testing.T) {
	out := make(chan kafka.Message, 8)
	tr := newOffsetTracker(out)
	for _, off := range []int64{1, 2} {
		tr.fetched(msg("t", 0, off, "k"))
	}
	tr.done(msg("t", 0, 2, "k"))
	assert.Empty(t, out)
	tr.done(msg("t", 0, 1, "k"))
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), (<-out).Offset)

	// offset 1 dikirim ulang setelah rebalance
	tr.fetched(msg("t", 0, 1, "k"))
	tr.done(msg("t", 0, 1, "k"))
	assert.Empty(t, out)
}
