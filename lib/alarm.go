package lib

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
}

type event struct{ timestamp time.Time }

func (e event) Timestamp() time.Time { return e.timestamp }

type pollWakeupEvent struct {
	event
}

type signalWakeupEvent struct {
	event
}

// alarmClock wakes the scheduler up: periodically on a ticker, immediately on
// start (to rebuild transient handles), and on demand when an activity or
// foreground signal arrives.
type alarmClock struct {
	cancel      func()
	wakeupTimer *time.Ticker
	signalC     chan signalWakeupEvent
	C           chan Event
}

func newAlarmClock(wakeupInterval time.Duration) *alarmClock {
	return &alarmClock{
		wakeupTimer: time.NewTicker(wakeupInterval),
		signalC:     make(chan signalWakeupEvent, 8),
		C:           make(chan Event),
	}
}

func (a *alarmClock) Start(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		defer close(a.C)

		immediateWakeupEvent := pollWakeupEvent{event{time.Now()}}
		select {
		case a.C <- immediateWakeupEvent:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case t := <-a.wakeupTimer.C:
				select {
				case a.C <- pollWakeupEvent{event{t}}:
				case <-ctx.Done():
					return
				}

			case signalEvent := <-a.signalC:
				select {
				case a.C <- signalEvent:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return a.C
}

// Signal requests an immediate evaluation pass. Never blocks; a full signal
// buffer means an evaluation is already queued.
func (a *alarmClock) Signal(t time.Time) {
	select {
	case a.signalC <- signalWakeupEvent{event{t}}:
	default:
	}
}

func (a *alarmClock) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wakeupTimer.Stop()
}
