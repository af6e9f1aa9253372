package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/internal/adapters/repository"
	service "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Mutation
	closed bool
}

func (p *recordingPublisher) Publish(ctx context.Context, m model.Mutation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, m)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) published() []model.Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Mutation(nil), p.events...)
}

// slowPublisher delays its first Publish call.
type slowPublisher struct {
	recordingPublisher
	delay time.Duration
	calls atomic.Int32
}

func (p *slowPublisher) Publish(ctx context.Context, m model.Mutation) error {
	if p.calls.Add(1) == 1 {
		time.Sleep(p.delay)
	}
	return p.recordingPublisher.Publish(ctx, m)
}

// replay applies every record to svc times times through ApplyOnce.
func replay(ctx context.Context, svc *service.Service, records []model.Mutation, times int) (duplicates int) {
	for _, m := range records {
		for i := 0; i < times; i++ {
			dup, err := svc.ApplyOnce(ctx, m)
			So(err, ShouldBeNil)
			if dup {
				duplicates++
			}
		}
	}
	return duplicates
}

type memorySink struct {
	mu     sync.Mutex
	boards map[string][]repository.Entry
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Save(ctx context.Context, board string, entries []repository.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[board] = append([]repository.Entry(nil), entries...)
	return nil
}

func (s *memorySink) Load(ctx context.Context, board string) ([]repository.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.Entry(nil), s.boards[board]...), nil
}

func (s *memorySink) Delete(ctx context.Context, board string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, board)
	return nil
}

func (s *memorySink) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for b := range s.boards {
		out = append(out, b)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memorySink) Close() error { return nil }

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		defer svc.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When enqueueing before Start", func() {
			So(svc.Enqueue(ctx, model.Mutation{Member: "a", Op: model.OpUpsert, Value: 1}), ShouldBeFalse)
			_, _, err := svc.EnqueueBatch(ctx, []model.Mutation{{Member: "a", Op: model.OpUpsert, Value: 1}})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it is marked as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["queueLength"], ShouldEqual, 0)
			})

			Convey("And stopping marks it stopped", func() {
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				svc.Stop()
			})
		})
	})
}

func TestService_Ingestion(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(4), service.WithQueueSize(1000))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When a batch of mutations is enqueued", func() {
			batch := []model.Mutation{
				{ID: "e1", Member: "alice", Op: model.OpIncrement, Value: 5},
				{ID: "e2", Member: "bob", Op: model.OpUpsert, Value: 50},
				{ID: "e3", Board: "weekly", Member: "carol", Op: model.OpUpsert, Value: 7},
				{ID: "e1", Member: "alice", Op: model.OpIncrement, Value: 5},
			}
			accepted, duplicates, err := svc.EnqueueBatch(ctx, batch)
			So(err, ShouldBeNil)
			So(accepted, ShouldEqual, 3)
			So(duplicates, ShouldEqual, 1)

			Convey("Then workers apply them", func() {
				So(waitFor(func() bool {
					a, _ := svc.Count(ctx, "")
					w, _ := svc.Count(ctx, "weekly")
					return a == 2 && w == 1
				}), ShouldBeTrue)
				score, _ := svc.Score(ctx, "", "alice")
				So(score, ShouldEqual, 5)
			})

			Convey("Then replaying the batch only yields duplicates", func() {
				accepted, duplicates, err := svc.EnqueueBatch(ctx, batch[:3])
				So(err, ShouldBeNil)
				So(accepted, ShouldEqual, 0)
				So(duplicates, ShouldEqual, 3)
			})
		})

		Convey("When a batch holds an invalid mutation", func() {
			batch := []model.Mutation{
				{Member: "ok", Op: model.OpUpsert, Value: 1},
				{Member: "", Op: model.OpUpsert, Value: 1},
			}
			accepted, _, err := svc.EnqueueBatch(ctx, batch)

			Convey("Then nothing is queued", func() {
				So(errors.Is(err, repository.ErrInvalidArgument), ShouldBeTrue)
				So(accepted, ShouldEqual, 0)
				time.Sleep(20 * time.Millisecond)
				n, _ := svc.Count(ctx, "")
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When a batch names an invalid board", func() {
			_, _, err := svc.EnqueueBatch(ctx, []model.Mutation{{Board: "bad board", Member: "a", Op: model.OpRemove}})
			So(errors.Is(err, service.ErrInvalidBoard), ShouldBeTrue)
		})
	})
}

func TestService_Journal(t *testing.T) {
	Convey("Given a service with a journal publisher", t, func() {
		pub := &recordingPublisher{}
		svc := service.New(service.WithPublisher(pub))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		_, _ = svc.Upsert(ctx, "", "alice", 10)
		_, _ = svc.Upsert(ctx, "", "alice", 10)
		_, _, _ = svc.IncrementOnce(ctx, "weekly", "bob", 2, "k1")
		_, _, _ = svc.IncrementOnce(ctx, "weekly", "bob", 2, "k1")
		_, _ = svc.Remove(ctx, "", "alice")
		_, _ = svc.Remove(ctx, "", "alice")
		svc.Stop()

		Convey("Then only changes are journaled", func() {
			events := pub.published()
			So(events, ShouldHaveLength, 3)
			So(events[0].Op, ShouldEqual, model.OpUpsert)
			So(events[0].Board, ShouldEqual, "default")
			So(events[1].Op, ShouldEqual, model.OpIncrement)
			So(events[1].ID, ShouldEqual, "k1")
			So(events[1].Board, ShouldEqual, "weekly")
			So(events[2].Op, ShouldEqual, model.OpRemove)
			So(pub.closed, ShouldBeTrue)
		})
	})
}

func TestService_JournalReplay(t *testing.T) {
	ctx := context.Background()

	Convey("Given a primary that journals every write", t, func() {
		pub := &recordingPublisher{}
		primary := service.New(service.WithPublisher(pub))
		replica := service.New()

		_, _ = primary.Upsert(ctx, "", "alice", 10)
		_, _ = primary.Increment(ctx, "", "dave", 50)
		_, _ = primary.Increment(ctx, "", "dave", 5)
		_, _ = primary.Upsert(ctx, "", "erin", 1)
		_, _ = primary.Remove(ctx, "", "erin")

		Convey("Then every record carries a unique id", func() {
			seen := map[string]bool{}
			for _, m := range pub.published() {
				_, err := uuid.Parse(m.ID)
				So(err, ShouldBeNil)
				So(seen[m.ID], ShouldBeFalse)
				seen[m.ID] = true
			}
			So(seen, ShouldHaveLength, 5)
		})

		Convey("When each record is delivered twice to a replica", func() {
			dups := replay(ctx, replica, pub.published(), 2)

			Convey("Then redeliveries are skipped and the replica matches", func() {
				So(dups, ShouldEqual, 5)
				score, err := replica.Score(ctx, "", "dave")
				So(err, ShouldBeNil)
				So(score, ShouldEqual, 55)
				want, _ := primary.Top(ctx, "", 10)
				got, _ := replica.Top(ctx, "", 10)
				So(got, ShouldResemble, want)
			})
		})
	})

	Convey("Given a publisher that is slow on its first record", t, func() {
		pub := &slowPublisher{delay: 20 * time.Millisecond}
		primary := service.New(service.WithPublisher(pub))

		Convey("When two upserts of one member race", func() {
			var wg sync.WaitGroup
			for _, v := range []float64{1, 2} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = primary.Upsert(ctx, "", "mallory", v)
				}()
				time.Sleep(5 * time.Millisecond)
			}
			wg.Wait()

			Convey("Then the journal holds them in apply order", func() {
				records := pub.published()
				So(records, ShouldHaveLength, 2)
				score, err := primary.Score(ctx, "", "mallory")
				So(err, ShouldBeNil)
				So(records[1].Value, ShouldEqual, score)

				replica := service.New()
				replay(ctx, replica, records, 1)
				got, err := replica.Score(ctx, "", "mallory")
				So(err, ShouldBeNil)
				So(got, ShouldEqual, score)
			})
		})
	})
}

func TestService_Snapshots(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service without a snapshot backend", t, func() {
		svc := service.New()
		_, err := svc.TriggerSnapshot(ctx)
		So(errors.Is(err, service.ErrNoSnapshotSink), ShouldBeTrue)
	})

	Convey("Given a snapshot sink with stored boards", t, func() {
		sink := &memorySink{boards: map[string][]repository.Entry{
			"weekly": {{Rank: 1, Member: "bob", Score: 20}, {Rank: 2, Member: "alice", Score: 10}},
		}}
		svc := service.New(service.WithSnapshotSink(sink, 0))

		Convey("When the service starts", func() {
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then the boards are restored", func() {
				rank, err := svc.Rank(ctx, "weekly", "alice")
				So(err, ShouldBeNil)
				So(rank, ShouldEqual, 2)
				svc.Stop()
			})

			Convey("And changes are saved on demand and on stop", func() {
				_, _ = svc.Upsert(ctx, "daily", "carol", 1)
				n, err := svc.TriggerSnapshot(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)

				_, _ = svc.Upsert(ctx, "daily", "dave", 2)
				svc.Stop()
				daily, _ := sink.Load(ctx, "daily")
				So(daily, ShouldHaveLength, 2)
				So(daily[0].Member, ShouldEqual, "dave")
			})

			Convey("And dropping a board deletes its snapshot", func() {
				_, err := svc.DropBoard(ctx, "weekly")
				So(err, ShouldBeNil)
				boards, _ := sink.List(ctx)
				So(boards, ShouldBeEmpty)
				svc.Stop()
			})
		})
	})
}
