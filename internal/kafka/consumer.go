package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

// reader is the part of *kafka.Reader the consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          reader
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, backoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second}
}

// Start dispatches messages to workers by key hash, so all events of one
// entity are handled in order by the same worker. A failing message is
// retried with backoff until it succeeds or ctx ends; offsets are committed
// per partition only up to the last message with nothing unfinished before
// it. Returns nil on ctx cancel.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	commits := make(chan kafka.Message, 64)
	committerDone := make(chan struct{})
	go func() {
		defer close(committerDone)
		for m := range commits {
			// ctx sengaja tidak dipakai: offset yg sudah diproses tetap di-commit saat shutdown
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.r.CommitMessages(cctx, m); err != nil {
				logx.L().Error("commit failed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
			}
			cancel()
		}
	}()
	track := newOffsetTracker(commits)

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if ctx.Err() != nil {
					continue // drain; offset tidak di-commit
				}
				if err := c.handle(ctx, h, m); err != nil {
					continue
				}
				track.done(m)
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		close(commits)
		<-committerDone
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		track.fetched(m)
		q := queues[xxhash.Sum64(m.Key)%uint64(c.workers)]
		select {
		case q <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds; only ctx ending stops the retries.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logx.L().Error("handler failed, retrying",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
			"attempt", attempt, "backoff", wait, "err", err)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

type partition struct {
	topic string
	id    int
}

// offsetTracker remembers fetch order per partition and releases a commit
// only for the contiguous prefix of finished messages.
type offsetTracker struct {
	mu        sync.Mutex
	inflight  map[partition][]kafka.Message
	finished  map[partition]map[int64]bool
	committed map[partition]int64
	out       chan<- kafka.Message
}

func newOffsetTracker(out chan<- kafka.Message) *offsetTracker {
	return &offsetTracker{
		inflight:  map[partition][]kafka.Message{},
		finished:  map[partition]map[int64]bool{},
		committed: map[partition]int64{},
		out:       out,
	}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	k := partition{m.Topic, m.Partition}
	t.mu.Lock()
	t.inflight[k] = append(t.inflight[k], m)
	t.mu.Unlock()
}

func (t *offsetTracker) done(m kafka.Message) {
	k := partition{m.Topic, m.Partition}
	t.mu.Lock()
	defer t.mu.Unlock()

	fin := t.finished[k]
	if fin == nil {
		fin = map[int64]bool{}
		t.finished[k] = fin
	}
	fin[m.Offset] = true

	q := t.inflight[k]
	var last *kafka.Message
	for len(q) > 0 && fin[q[0].Offset] {
		delete(fin, q[0].Offset)
		head := q[0]
		last = &head
		q = q[1:]
	}
	t.inflight[k] = q
	if last == nil {
		return
	}
	// redelivery setelah rebalance bisa mengulang offset lama; jangan mundur
	if hw, ok := t.committed[k]; ok && last.Offset <= hw {
		return
	}
	t.committed[k] = last.Offset
	// kirim sambil pegang lock supaya urutan commit per partisi tetap naik
	t.out <- *last
}
