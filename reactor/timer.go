package reactor

import "github.com/pkg/errors"

// TimerCallback is invoked synchronously from the owning Worker's goroutine
// every time a TimerEvent fires, mirroring fl::events::TimerEventInterface.
type TimerCallback func(*TimerEvent)

// TimerEvent is a WorkEvent wrapping a kernel timer descriptor (timerfd on
// Linux; see timer_other.go for the kqueue-platform substitute). Firing
// reads-and-discards the expiration count and invokes the registered
// callback; like any other Event it participates in the owning Worker's
// Event Timeout List, so stopping it is just another tear-down.
//
// Grounded on original_source/timer_event.{hpp,cpp}.
type TimerEvent struct {
	Base
	close    func() error
	callback TimerCallback
}

// NewTimerEvent arms a timer that first fires after `first` and, if
// `every` is non-zero, repeats every `every` thereafter. deadline is the
// ETL deadline to register it under — ordinarily far in the future. The
// per-second sweep never retires a TimerEvent (IsFinished always reports
// false), so a one-shot timer, like a periodic one, stays registered until
// it is torn down through Stop or Worker.Close.
func NewTimerEvent(first, every int64Duration, deadline int64, cb TimerCallback) (*TimerEvent, error) {
	fd, closeFn, err := newTimerSource(first.ms(), every.ms())
	if err != nil {
		return nil, errors.Wrap(err, "arm timer")
	}
	return &TimerEvent{
		Base:     NewBase(fd, Readable, deadline),
		close:    closeFn,
		callback: cb,
	}, nil
}

// Call drains the timer's expiration count and invokes the callback. It
// always returns Skip: a TimerEvent's lifetime is controlled by Stop (or
// Worker.Close), not by Call's result and not by the ETL sweep.
func (t *TimerEvent) Call(ev Events) CallResult {
	_ = consumeTimer(t.Descriptor())
	if t.callback != nil {
		t.callback(t)
	}
	return Skip
}

// IsFinished reports false: a TimerEvent is retired explicitly via Stop,
// never by passive deadline expiry.
func (t *TimerEvent) IsFinished() bool { return false }

// Stop releases the underlying timer descriptor. The caller is still
// responsible for having the owning Worker deregister and drop the event
// (set its op to OpDel and call Worker.Ctrl, or simply let Close walk it
// during Worker shutdown).
func (t *TimerEvent) Stop() error {
	if t.close == nil {
		return nil
	}
	err := t.close()
	t.close = nil
	return err
}

// Close implements the optional interface Worker.Close looks for.
func (t *TimerEvent) Close() error { return t.Stop() }

// int64Duration is milliseconds, named to keep NewTimerEvent's signature
// self-documenting without importing time for a single conversion helper.
type int64Duration int64

func (d int64Duration) ms() int64 { return int64(d) }

// MS constructs an int64Duration from a millisecond count.
func MS(ms int64) int64Duration { return int64Duration(ms) }
