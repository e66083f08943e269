package notify

import (
	"context"
	"sync"
)

// CaptureNotifier records every message in memory. Tests read invite links
// and one-time codes out of it, since production notifiers only deliver
// them out of band.
type CaptureNotifier struct {
	mu   sync.Mutex
	sent []Message
	fail error
}

func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{}
}

func (n *CaptureNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (n *CaptureNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.sent))
	copy(out, n.sent)
	return out
}

// LastOfKind returns the most recent message of the given kind.
func (n *CaptureNotifier) LastOfKind(kind Kind) (Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return Message{}, false
}

// FailWith makes every subsequent Send return err (nil restores delivery).
func (n *CaptureNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

func (n *CaptureNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
	n.fail = nil
}
