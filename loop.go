package hubio

/*
MIT License

Copyright (c) 2015-2018 University Corporation for Atmospheric Research

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

/*Loop is the single logical thread everything in this package runs on. Socket
I/O notifications, timer firings and posted work are all executed one at a
time by the Loop, so none of the types here lock anything.

Every exported method of Socket, Connection, Registry and Dispatcher must be
called from a function running on the Loop. Other goroutines hand work over
with Post (or EventLoop.Do).*/
type Loop interface {
	//Now is the loop's clock
	Now() time.Time
	//Post runs f on the loop after already queued work
	Post(f func())
	/*Schedule runs f on the loop once d has elapsed. The returned function
	cancels it, reporting whether f was still pending*/
	Schedule(d time.Duration, f func()) (cancel func() bool)
}

/*safeCall runs f, recovering and reporting any panic to logger. It is the one
place user supplied callbacks are isolated from each other and from the loop.*/
func safeCall(logger *slog.Logger, descr string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error(descr+" failed", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	f()
	return true
}

var _ Loop = &EventLoop{}

/*EventLoop is the production Loop: a goroutine draining a FIFO of work, with
timers from the runtime posting their callbacks into it.*/
type EventLoop struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

/*NewEventLoop returns an EventLoop that stops once ctx is done. Call Run to
start executing work.*/
func NewEventLoop(ctx context.Context, logger *slog.Logger) *EventLoop {
	if logger == nil {
		logger = slog.Default()
	}
	lctx, cancel := context.WithCancel(ctx)
	return &EventLoop{
		ctx:    lctx,
		cancel: cancel,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

//Now conforms to Loop
func (l *EventLoop) Now() time.Time { return time.Now() }

//Post conforms to Loop. It is safe to call from any goroutine.
func (l *EventLoop) Post(f func()) {
	l.mu.Lock()
	l.pending = append(l.pending, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type loopTimer struct {
	t                *time.Timer
	fired, cancelled bool
}

/*Schedule conforms to Loop. It must be called on the loop; the returned
cancel func too.*/
func (l *EventLoop) Schedule(d time.Duration, f func()) func() bool {
	if d < 0 {
		d = 0
	}
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.cancelled {
				return
			}
			lt.fired = true
			f()
		})
	})
	return func() bool {
		if lt.fired || lt.cancelled {
			return false
		}
		lt.cancelled = true
		lt.t.Stop()
		return true
	}
}

/*Run executes posted work until the loop's context is done, returning the
context's error. Work posted while a batch runs waits for the next batch.*/
func (l *EventLoop) Run() error {
	for {
		select {
		case <-l.ctx.Done():
			return l.ctx.Err()
		case <-l.wake:
		}
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()
		for _, f := range batch {
			if l.ctx.Err() != nil {
				return l.ctx.Err()
			}
			safeCall(l.logger, "event loop task", f)
		}
	}
}

/*Do runs f on the loop and waits for it to finish, or for ctx or the loop to
be done. It must not be called from the loop itself.*/
func (l *EventLoop) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

//Stop ends Run
func (l *EventLoop) Stop() { l.cancel() }
