// Package ui models the presentation layer the purchase flow drives. The
// service never renders anything; it records navigation commands that the
// client application replays.
package ui

import (
	"sync"
	"time"
)

// Well-known screens.
const (
	ScreenEditProfile  = "edit_profile"
	ScreenDIBSPayment  = "dibs_payment"
	ScreenEpayPayment  = "epay_payment"
	ScreenEpayEdit     = "epay_edit"
	ScreenPurchaseMenu = "purchase"
)

type CommandKind string

const (
	CommandPush         CommandKind = "push"
	CommandPop          CommandKind = "pop"
	CommandAlert        CommandKind = "alert"
	CommandShowActivity CommandKind = "show_activity"
	CommandHideActivity CommandKind = "hide_activity"
	CommandOpenURL      CommandKind = "open_url"
)

// Command is one instruction for the client's UI.
type Command struct {
	Seq     int               `json:"seq"`
	Kind    CommandKind       `json:"kind"`
	Screen  string            `json:"screen,omitempty"`
	Count   int               `json:"count,omitempty"`
	Title   string            `json:"title,omitempty"`
	Message string            `json:"message,omitempty"`
	URL     string            `json:"url,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	At      time.Time         `json:"at"`
}

// Host is what adapters may ask of the presentation layer.
type Host interface {
	Push(screen string, params map[string]string)
	Pop(n int)
	ShowAlert(title, message string)
	ShowActivity()
	HideActivity()
	OpenURL(url string)
	// PreviousScreen names the screen below the top of the navigation stack.
	PreviousScreen() string
}

// Recorder is a Host that keeps the commands for one attempt and tracks
// the navigation stack they imply.
type Recorder struct {
	mu       sync.Mutex
	stack    []string
	commands []Command
	now      func() time.Time
}

// NewRecorder starts with origin as the only screen on the stack.
func NewRecorder(origin string) *Recorder {
	r := &Recorder{now: time.Now}
	if origin != "" {
		r.stack = []string{origin}
	}
	return r
}

func (r *Recorder) record(c Command) {
	c.Seq = len(r.commands) + 1
	c.At = r.now()
	r.commands = append(r.commands, c)
}

func (r *Recorder) Push(screen string, params map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = append(r.stack, screen)
	r.record(Command{Kind: CommandPush, Screen: screen, Params: params})
}

// Pop removes up to n screens; the origin screen is never removed.
func (r *Recorder) Pop(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := len(r.stack) - n
	if keep < 1 {
		keep = min(1, len(r.stack))
	}
	r.stack = r.stack[:keep]
	r.record(Command{Kind: CommandPop, Count: n})
}

func (r *Recorder) ShowAlert(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Command{Kind: CommandAlert, Title: title, Message: message})
}

func (r *Recorder) ShowActivity() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Command{Kind: CommandShowActivity})
}

func (r *Recorder) HideActivity() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Command{Kind: CommandHideActivity})
}

func (r *Recorder) OpenURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Command{Kind: CommandOpenURL, URL: url})
}

func (r *Recorder) PreviousScreen() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) < 2 {
		return ""
	}
	return r.stack[len(r.stack)-2]
}

// Top returns the visible screen.
func (r *Recorder) Top() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return ""
	}
	return r.stack[len(r.stack)-1]
}

// Commands returns a copy of everything recorded so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Since returns the commands after sequence number seq.
func (r *Recorder) Since(seq int) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(r.commands) {
		return nil
	}
	out := make([]Command, len(r.commands)-seq)
	copy(out, r.commands[seq:])
	return out
}
