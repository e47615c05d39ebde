package ui

import (
	"context"
	"sync"
)

// Dispatcher runs every UI mutation on one goroutine, in submission order.
type Dispatcher struct {
	queue   chan func()
	stopped chan struct{}
	once    sync.Once
}

func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		queue:   make(chan func(), buffer),
		stopped: make(chan struct{}),
	}
}

// Run executes queued work until ctx ends, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.once.Do(func() { close(d.stopped) })
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-ctx.Done():
			for {
				select {
				case fn := <-d.queue:
					fn()
				default:
					return nil
				}
			}
		}
	}
}

// Post queues fn. Work posted after the dispatcher stopped is dropped.
func (d *Dispatcher) Post(fn func()) {
	select {
	case <-d.stopped:
		return
	default:
	}
	select {
	case <-d.stopped:
	case d.queue <- fn:
	}
}

// Call queues fn and waits for it to finish. It returns false if the
// dispatcher stopped first.
func (d *Dispatcher) Call(fn func()) bool {
	done := make(chan struct{})
	d.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-d.stopped:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

type dispatchedHost struct {
	host Host
	d    *Dispatcher
}

// Dispatched wraps host so that every call runs on d.
func Dispatched(host Host, d *Dispatcher) Host {
	return &dispatchedHost{host: host, d: d}
}

func (h *dispatchedHost) Push(screen string, params map[string]string) {
	h.d.Post(func() { h.host.Push(screen, params) })
}

func (h *dispatchedHost) Pop(n int) {
	h.d.Post(func() { h.host.Pop(n) })
}

func (h *dispatchedHost) ShowAlert(title, message string) {
	h.d.Post(func() { h.host.ShowAlert(title, message) })
}

func (h *dispatchedHost) ShowActivity() {
	h.d.Post(h.host.ShowActivity)
}

func (h *dispatchedHost) HideActivity() {
	h.d.Post(h.host.HideActivity)
}

func (h *dispatchedHost) OpenURL(url string) {
	h.d.Post(func() { h.host.OpenURL(url) })
}

// PreviousScreen waits for earlier posted commands so the answer reflects them.
func (h *dispatchedHost) PreviousScreen() string {
	var prev string
	h.d.Call(func() { prev = h.host.PreviousScreen() })
	return prev
}
