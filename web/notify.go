package web

import (
	"sync"

	console "github.com/chimerakang/assetconsole"
)

// Message is one user-visible notice.
type Message struct {
	Level string `json:"level"` // "warn" or "error"
	Text  string `json:"text"`
}

// Flash queues user-visible notices until the next page or session poll
// drains them. It keeps at most limit messages, dropping the oldest.
type Flash struct {
	mu    sync.Mutex
	msgs  []Message
	limit int
}

var _ console.Notifier = (*Flash)(nil)

// NewFlash creates a Flash holding up to limit messages. A non-positive
// limit defaults to 16.
func NewFlash(limit int) *Flash {
	if limit <= 0 {
		limit = 16
	}
	return &Flash{limit: limit}
}

// Warn queues a warning.
func (f *Flash) Warn(msg string) { f.push(Message{Level: "warn", Text: msg}) }

// Error queues an error.
func (f *Flash) Error(msg string) { f.push(Message{Level: "error", Text: msg}) }

func (f *Flash) push(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	if over := len(f.msgs) - f.limit; over > 0 {
		f.msgs = append([]Message(nil), f.msgs[over:]...)
	}
}

// Drain returns the queued messages and empties the queue.
func (f *Flash) Drain() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	if out == nil {
		out = []Message{}
	}
	return out
}

// Navigator tracks the console's history stack. A navigation with Replace
// overwrites the current entry so it cannot be returned to.
type Navigator struct {
	mu      sync.Mutex
	history []string
	pending string
}

var _ console.Navigator = (*Navigator)(nil)

// NewNavigator creates a Navigator positioned at start.
func NewNavigator(start string) *Navigator {
	return &Navigator{history: []string{start}}
}

// Navigate moves to route to.
func (n *Navigator) Navigate(to string, opts console.NavigateOptions) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if opts.Replace && len(n.history) > 0 {
		n.history[len(n.history)-1] = to
	} else {
		n.history = append(n.history, to)
	}
	n.pending = to
}

// Visit records a page the operator opened. Unlike Navigate it leaves any
// pending forced navigation in place.
func (n *Navigator) Visit(location string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) > 0 && n.history[len(n.history)-1] == location {
		return
	}
	n.history = append(n.history, location)
}

// Current returns the route at the top of the history stack.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) == 0 {
		return ""
	}
	return n.history[len(n.history)-1]
}

// History returns a copy of the history stack, oldest first.
func (n *Navigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}

// Back pops the current entry and returns the one below it.
func (n *Navigator) Back() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) < 2 {
		return "", false
	}
	n.history = n.history[:len(n.history)-1]
	return n.history[len(n.history)-1], true
}

// TakePending returns and clears the last navigation requested through
// Navigate that no page has acted on yet.
func (n *Navigator) TakePending() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	to := n.pending
	n.pending = ""
	return to, to != ""
}
