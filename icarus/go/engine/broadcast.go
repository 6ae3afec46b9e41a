package engine

import (
	"sync"
	"time"
)

// MessageType discriminates the two shapes sent on a job's push channel.
type MessageType string

const (
	MessageStatusUpdate MessageType = "status_update"
	MessageLog          MessageType = "log"
)

// Message is one frame sent to a push-channel subscriber.
type Message struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
}

func isTerminalStatusString(status string) bool {
	switch status {
	case "completed", "failed", "rejected":
		return true
	default:
		return false
	}
}

// defaultCloseGrace is how long an already-terminal broadcaster keeps
// existing subscriber channels open before closing them, giving a slow
// subscriber a last chance to drain the terminal message.
const defaultCloseGrace = 200 * time.Millisecond

// Broadcaster fans a single job's messages out to any number of
// subscribers. Each subscriber owns an independent bounded buffer; a
// subscriber whose buffer fills is disconnected, never blocked, so one
// slow dashboard cannot stall the pipeline (spec §4.4, design note §9).
type Broadcaster struct {
	mu          sync.Mutex
	bufSize     int
	closeGrace  time.Duration
	subs        map[int]chan Message
	nextID      int
	closed      bool
	terminalMsg *Message
}

// NewBroadcaster returns a Broadcaster whose subscriber channels each
// buffer up to bufSize messages.
func NewBroadcaster(bufSize int) *Broadcaster {
	return &Broadcaster{
		bufSize:    bufSize,
		closeGrace: defaultCloseGrace,
		subs:       map[int]chan Message{},
	}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and its receive channel. If the broadcaster has already
// published a terminal status_update, the returned channel already
// contains that message and is closed immediately -- matching the spec's
// "subscribers that connect after a terminal transition receive that
// terminal status immediately and then the channel closes".
func (b *Broadcaster) Subscribe() (int, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, b.bufSize)
	if b.closed {
		if b.terminalMsg != nil {
			ch <- *b.terminalMsg
		}
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel. Safe to call
// more than once or after the broadcaster has closed it itself.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers msg to every current subscriber without blocking;
// a subscriber whose buffer is full is dropped. If msg is a terminal
// status_update, the broadcaster latches closed: no further Publish has
// any effect, and every open subscriber channel is closed after a brief
// grace period.
func (b *Broadcaster) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}

	if msg.Type == MessageStatusUpdate && isTerminalStatusString(msg.Status) {
		terminal := msg
		b.terminalMsg = &terminal
		b.closed = true
		remaining := b.subs
		b.subs = map[int]chan Message{}
		time.AfterFunc(b.closeGrace, func() {
			for _, ch := range remaining {
				close(ch)
			}
		})
	}
}
