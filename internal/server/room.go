package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const idleRoomTimeout = time.Second * 5

var errRoomsClosed = errors.New("chat server is shutting down")

type roomJob struct {
	run  func() error
	done chan error
}

// Room is the single writer of one conversation. Jobs run one at a time
// on the room's goroutine, so what a job persists reaches every observer
// in the order it was stored.
type Room struct {
	id    string
	rooms *rooms
	jobs  chan roomJob
	log   *log.Logger
	// pending counts callers that hold or wait for a job slot, guarded by
	// rooms.mu
	pending int
	// killTimer unloads the room once it has been idle
	killTimer *time.Timer
}

func (r *Room) start() {
	defer r.rooms.wg.Done()

	r.killTimer = time.NewTimer(r.rooms.idleTimeout)
	defer r.killTimer.Stop()

	for {
		select {
		case job := <-r.jobs:
			job.done <- r.run(job.run)
			r.rooms.release(r)
			r.killTimer.Reset(r.rooms.idleTimeout)
		case <-r.killTimer.C:
			if r.rooms.unload(r) {
				return
			}
			r.killTimer.Reset(r.rooms.idleTimeout)
		case <-r.rooms.quit:
			return
		}
	}
}

func (r *Room) run(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Printf("room %q: panic: %v", r.id, rec)
			err = fmt.Errorf("room %q: panic: %v", r.id, rec)
		}
	}()

	return fn()
}

// rooms starts a Room on first use and unloads it after idleTimeout.
type rooms struct {
	mu          sync.Mutex
	active      map[string]*Room
	log         *log.Logger
	idleTimeout time.Duration
	quit        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func newRooms(logger *log.Logger, idleTimeout time.Duration) *rooms {
	return &rooms{
		active:      make(map[string]*Room),
		log:         logger,
		idleTimeout: idleTimeout,
		quit:        make(chan struct{}),
	}
}

// Do runs fn on the goroutine of room id and returns its error. Calls for
// the same room run in the order they are handed over.
func (rs *rooms) Do(id string, fn func() error) error {
	rs.mu.Lock()
	select {
	case <-rs.quit:
		rs.mu.Unlock()
		return errRoomsClosed
	default:
	}

	r, ok := rs.active[id]
	if !ok {
		r = &Room{
			id:    id,
			rooms: rs,
			jobs:  make(chan roomJob),
			log:   rs.log,
		}
		rs.active[id] = r
		rs.wg.Add(1)
		go r.start()
	}
	r.pending++
	rs.mu.Unlock()

	job := roomJob{run: fn, done: make(chan error, 1)}
	select {
	case r.jobs <- job:
	case <-rs.quit:
		rs.release(r)
		return errRoomsClosed
	}

	return <-job.done
}

func (rs *rooms) release(r *Room) {
	rs.mu.Lock()
	r.pending--
	rs.mu.Unlock()
}

// unload removes r unless a caller is about to hand it a job.
func (rs *rooms) unload(r *Room) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r.pending > 0 {
		return false
	}
	delete(rs.active, r.id)
	rs.log.Printf("room %q unloaded", r.id)
	return true
}

func (rs *rooms) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.active)
}

// Close stops every room after its current job and waits for the room
// goroutines to exit.
func (rs *rooms) Close(ctx context.Context) error {
	rs.closeOnce.Do(func() {
		rs.mu.Lock()
		close(rs.quit)
		rs.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		rs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
