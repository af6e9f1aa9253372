package journal

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/domain/model"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves msgs in order, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestProducer(t *testing.T) {
	Convey("Given a producer", t, func() {
		w := &fakeWriter{}
		p := newProducer(w, "mutations")
		ctx := context.Background()

		Convey("When a mutation is published", func() {
			m := model.Mutation{ID: "id-1", Board: "weekly", Member: "alice", Op: model.OpIncrement, Value: 3}
			So(p.Publish(ctx, m), ShouldBeNil)

			Convey("Then it is keyed by board and decodes back", func() {
				So(w.msgs, ShouldHaveLength, 1)
				So(string(w.msgs[0].Key), ShouldEqual, "weekly")
				got, err := DecodeJSON[model.Mutation](w.msgs[0].Value)
				So(err, ShouldBeNil)
				So(got.Member, ShouldEqual, "alice")
				So(got.Op, ShouldEqual, model.OpIncrement)
				So(got.Value, ShouldEqual, 3)
			})
		})

		Convey("When a mutation carries an infinite score", func() {
			m := model.Mutation{ID: "id-2", Board: "weekly", Member: "x", Op: model.OpUpsert, Value: math.Inf(1)}
			So(p.Publish(ctx, m), ShouldBeNil)

			Convey("Then it is written and decodes to the same score", func() {
				So(w.msgs, ShouldHaveLength, 1)
				got, err := DecodeJSON[model.Mutation](w.msgs[0].Value)
				So(err, ShouldBeNil)
				So(math.IsInf(got.Value, 1), ShouldBeTrue)
				So(got.Validate(), ShouldBeNil)
			})
		})

		Convey("When the broker write fails", func() {
			w.err = errors.New("leader not available")
			err := p.Publish(ctx, model.Mutation{Member: "a", Op: model.OpRemove})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "leader not available")
		})
	})

	Convey("Given no brokers", t, func() {
		_, err := NewProducer(nil, "t")
		So(errors.Is(err, ErrNoBrokers), ShouldBeTrue)
		_, err = NewConsumer(nil, "t", "g", nil)
		So(errors.Is(err, ErrNoBrokers), ShouldBeTrue)
	})
}

func TestConsumer(t *testing.T) {
	Convey("Given a consumer with a journal of mutations", t, func() {
		good, _ := encode(model.Mutation{ID: "1", Board: "weekly", Member: "alice", Op: model.OpUpsert, Value: 10})
		good.Offset = 1
		keyed, _ := encode(model.Mutation{ID: "2", Member: "bob", Op: model.OpIncrement, Value: 2})
		keyed.Key = []byte("daily")
		keyed.Offset = 2
		garbage := kafka.Message{Offset: 3, Value: []byte("{not json")}
		invalid, _ := encode(model.Mutation{ID: "4", Member: "", Op: model.OpUpsert})
		invalid.Offset = 4
		rejected, _ := encode(model.Mutation{ID: "5", Board: "weekly", Member: "carol", Op: model.OpUpsert, Value: 1})
		rejected.Offset = 5

		r := &fakeReader{msgs: []kafka.Message{good, keyed, garbage, invalid, rejected}}
		var (
			mu      sync.Mutex
			applied []model.Mutation
		)
		c := newConsumer(r, "mutations", ApplierFunc(func(ctx context.Context, m model.Mutation) error {
			if m.Member == "carol" {
				return errors.New("board is read-only")
			}
			mu.Lock()
			applied = append(applied, m)
			mu.Unlock()
			return nil
		}))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Start(ctx) }()

		Convey("When the journal has been read", func() {
			for len(r.commits()) < 5 {
				select {
				case err := <-done:
					t.Fatalf("consumer exited early: %v", err)
				case <-time.After(time.Millisecond):
				}
			}
			cancel()
			So(<-done, ShouldBeNil)

			Convey("Then valid mutations are applied in order and everything is committed", func() {
				So(applied, ShouldHaveLength, 2)
				So(applied[0].Member, ShouldEqual, "alice")
				So(applied[1].Board, ShouldEqual, "daily")
				So(r.commits(), ShouldResemble, []int64{1, 2, 3, 4, 5})
			})
		})
	})
}
