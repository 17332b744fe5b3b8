// internal/relay/consumer_test.go
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"librelay/internal/domain"
	"librelay/internal/logger"
	"librelay/internal/repository"
	"librelay/internal/repository/repositorytest"
)

type memProgress struct {
	mu   sync.Mutex
	seqs map[uuid.UUID]uint64
}

func newMemProgress() *memProgress {
	return &memProgress{seqs: make(map[uuid.UUID]uint64)}
}

func (p *memProgress) appliedSeq(entity uuid.UUID) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seqs[entity]
}

func (p *memProgress) applied(_ context.Context, entity uuid.UUID) (uint64, error) {
	return p.appliedSeq(entity), nil
}

func (p *memProgress) advance(_ context.Context, entity uuid.UUID, seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seqs[entity] < seq {
		p.seqs[entity] = seq
	}
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memSink) Record(_ context.Context, event Event, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type memTarget struct {
	*target
	progress *memProgress
	sink     *memSink
}

func newMemTarget(name string) *memTarget {
	books := repository.NewBooks(repository.ReadPrimaryOnly, repositorytest.NewMemBookStore())
	prog := newMemProgress()
	sink := &memSink{}
	return &memTarget{
		target: &target{
			name:       name,
			books:      books,
			users:      repository.NewUsers(repository.ReadPrimaryOnly, repositorytest.NewMemUserStore()),
			borrows:    repository.NewBorrows(repository.ReadPrimaryOnly, books, repositorytest.NewMemBorrowStore()),
			progress:   prog,
			deadletter: sink,
		},
		progress: prog,
		sink:     sink,
	}
}

func newTestConsumer(source Source, cfg ConsumerConfig, targets ...*memTarget) *Consumer {
	raw := make([]*target, len(targets))
	for i, t := range targets {
		raw[i] = t.target
	}
	return newConsumer(source, cfg, logger.NewNop(), raw)
}

func sequenced(t *testing.T, event Event, err error, seq uint64, origin string) Event {
	t.Helper()
	require.NoError(t, err)
	event.Seq = seq
	event.Origin = origin
	return event
}

func TestConsumerReplaysBookAdd(t *testing.T) {
	admin := newMemTarget("admin")
	c := newTestConsumer(nil, ConsumerConfig{}, admin)

	book := &domain.Book{UUID: uuid.New(), Title: "Dune", Publisher: "Chilton", AvailabilityStatus: true}
	ev, err := NewBookAdded(book)
	event := sequenced(t, ev, err, 1, "default")

	require.NoError(t, c.process(context.Background(), event))

	got, err := admin.books.Get(context.Background(), book.UUID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)
	assert.EqualValues(t, 1, admin.progress.appliedSeq(book.UUID))

	// Redelivery is a no-op, not a second insert.
	require.NoError(t, c.process(context.Background(), event))
	assert.EqualValues(t, 1, admin.progress.appliedSeq(book.UUID))
}

func TestConsumerSkipsOriginStore(t *testing.T) {
	def := newMemTarget("default")
	admin := newMemTarget("admin")
	c := newTestConsumer(nil, ConsumerConfig{}, def, admin)

	book := &domain.Book{UUID: uuid.New(), Title: "Solaris", AvailabilityStatus: true}
	ev, err := NewBookAdded(book)
	event := sequenced(t, ev, err, 1, "default")

	require.NoError(t, c.process(context.Background(), event))

	// The origin already holds the primary write; replay targets only the
	// other store.
	_, err = def.books.Get(context.Background(), book.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = admin.books.Get(context.Background(), book.UUID)
	assert.NoError(t, err)
}

func TestConsumerSequenceGap(t *testing.T) {
	admin := newMemTarget("admin")
	c := newTestConsumer(nil, ConsumerConfig{}, admin)

	bookUUID := uuid.New()
	addEv, addErr := NewBookAdded(&domain.Book{UUID: bookUUID, Title: "Hyperion", AvailabilityStatus: true})
	add := sequenced(t, addEv, addErr, 1, "default")
	rmEv, rmErr := NewBookRemoved(bookUUID)
	remove := sequenced(t, rmEv, rmErr, 2, "default")

	// seq 2 ahead of seq 1: held back, nothing applied.
	err := c.process(context.Background(), remove)
	assert.ErrorIs(t, err, ErrSequenceGap)
	_, err = admin.books.Get(context.Background(), bookUUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.process(context.Background(), add))
	require.NoError(t, c.process(context.Background(), remove))

	_, err = admin.books.Get(context.Background(), bookUUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.EqualValues(t, 2, admin.progress.appliedSeq(bookUUID))
}

func TestConsumerBorrowLifecycle(t *testing.T) {
	admin := newMemTarget("admin")
	c := newTestConsumer(nil, ConsumerConfig{}, admin)
	ctx := context.Background()

	book := &domain.Book{UUID: uuid.New(), Title: "Foundation", AvailabilityStatus: true}
	addEv, addErr := NewBookAdded(book)
	require.NoError(t, c.process(ctx, sequenced(t, addEv, addErr, 1, "default")))

	record := &domain.BorrowRecord{
		UUID:       uuid.New(),
		UserUUID:   uuid.New(),
		BookUUID:   book.UUID,
		BorrowDate: time.Now(),
		DueDate:    time.Now().AddDate(0, 0, 14),
	}
	borrowEv, borrowErr := NewBorrowCreated(record)
	require.NoError(t, c.process(ctx, sequenced(t, borrowEv, borrowErr, 1, "default")))

	got, err := admin.books.Get(ctx, book.UUID)
	require.NoError(t, err)
	assert.False(t, got.AvailabilityStatus, "borrow replay flips availability")

	closeEv, closeErr := NewBorrowClosed(record.UUID, book.UUID)
	require.NoError(t, c.process(ctx, sequenced(t, closeEv, closeErr, 2, "default")))

	got, err = admin.books.Get(ctx, book.UUID)
	require.NoError(t, err)
	assert.True(t, got.AvailabilityStatus, "close replay restores availability")
}

func TestConsumerUnknownEventDeadLetters(t *testing.T) {
	admin := newMemTarget("admin")
	c := newTestConsumer(nil, ConsumerConfig{}, admin)

	acked := false
	d := Delivery{
		Event: Event{
			ID:      uuid.New(),
			Topic:   Topic("weather_events"),
			Action:  ActionAdd,
			Entity:  uuid.New(),
			Seq:     1,
			Origin:  "default",
			Payload: json.RawMessage(`{}`),
		},
		Ack:  func() error { acked = true; return nil },
		Nack: func(bool) error { t.Fatal("unknown event must not requeue"); return nil },
	}

	c.Handle(context.Background(), d)

	assert.True(t, acked)
	assert.Equal(t, 1, admin.sink.count())
}

func TestConsumerRedeliveryHorizon(t *testing.T) {
	admin := newMemTarget("admin")
	c := newTestConsumer(nil, ConsumerConfig{MaxRedeliveries: 3}, admin)

	// seq 2 with seq 1 never arriving: a permanent gap.
	ev, err := NewBookRemoved(uuid.New())
	event := sequenced(t, ev, err, 2, "default")

	var acks, nacks int
	d := Delivery{
		Event: event,
		Ack:   func() error { acks++; return nil },
		Nack:  func(requeue bool) error { require.True(t, requeue); nacks++; return nil },
	}

	for i := 0; i < 3; i++ {
		c.Handle(context.Background(), d)
	}

	assert.Equal(t, 2, nacks, "requeued until the horizon")
	assert.Equal(t, 1, acks, "acked once dead-lettered")
	assert.Equal(t, 1, admin.sink.count())
}

// TestConsumerConvergesUnderShuffledRedelivery models the at-least-once
// transport at its worst: deliveries arrive in arbitrary order, with
// duplicates. Whatever the schedule, the target must converge to the state of
// in-order application.
func TestConsumerConvergesUnderShuffledRedelivery(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "events")
		bookUUID := uuid.New()

		// Alternating add/remove history for one book, seq 1..n.
		events := make([]Event, 0, n)
		for seq := 1; seq <= n; seq++ {
			var ev Event
			var err error
			if seq%2 == 1 {
				ev, err = NewBookAdded(&domain.Book{UUID: bookUUID, Title: "Dune", AvailabilityStatus: true})
			} else {
				ev, err = NewBookRemoved(bookUUID)
			}
			if err != nil {
				t.Fatal(err)
			}
			ev.Seq = uint64(seq)
			ev.Origin = "default"
			events = append(events, ev)
		}

		queue := make([]Event, 0, 2*n)
		queue = append(queue, events...)
		for _, i := range rapid.SliceOfN(rapid.IntRange(0, n-1), 0, n).Draw(t, "duplicates") {
			queue = append(queue, events[i])
		}

		admin := newMemTarget("admin")
		c := newTestConsumer(nil, ConsumerConfig{}, admin)
		ctx := context.Background()

		// Drain with redelivery: gapped events go back to the queue. Bounded
		// because each pass over the queue applies at least the next needed
		// sequence.
		for rounds := 0; len(queue) > 0; rounds++ {
			if rounds > n*len(queue)+len(queue) {
				t.Fatalf("queue did not drain: %d left", len(queue))
			}
			i := rapid.IntRange(0, len(queue)-1).Draw(t, "pick")
			err := c.process(ctx, queue[i])
			if err != nil {
				if !assert.ErrorIs(t, err, ErrSequenceGap) {
					t.Fatal(err)
				}
				continue
			}
			queue = append(queue[:i], queue[i+1:]...)
		}

		_, err := admin.books.Get(ctx, bookUUID)
		if n%2 == 1 {
			assert.NoError(t, err, "history ends on add")
		} else {
			assert.ErrorIs(t, err, domain.ErrNotFound, "history ends on remove")
		}
		assert.EqualValues(t, n, admin.progress.appliedSeq(bookUUID))
	})
}

func TestChannelTransportBackpressure(t *testing.T) {
	tr := NewChannelTransport(1)
	ctx := context.Background()

	require.NoError(t, tr.Publish(ctx, Event{ID: uuid.New()}))
	assert.ErrorIs(t, tr.Publish(ctx, Event{ID: uuid.New()}), ErrPublishUnavailable)
}
