package dist

import (
	"context"
	"sync"
)

// Loopback is an in-process Transport connecting n ranks through buffered
// channels. It exists for tests and single-host multi-worker runs; it
// preserves per-sender order the way a real transport must.
type Loopback struct {
	rank  int
	peers []*Loopback

	inbox chan inboundMessage
	quit  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	handler func(from int, m Message)
	closed  bool
}

type inboundMessage struct {
	from int
	msg  Message
}

// NewLoopback wires up n ranks and returns one transport per rank.
func NewLoopback(n int) []*Loopback {
	peers := make([]*Loopback, n)
	for i := range peers {
		peers[i] = &Loopback{
			rank:  i,
			peers: peers,
			inbox: make(chan inboundMessage, 64),
			quit:  make(chan struct{}),
			done:  make(chan struct{}),
		}
	}
	return peers
}

// Rank implements Transport.
func (l *Loopback) Rank() int { return l.rank }

// Size implements Transport.
func (l *Loopback) Size() int { return len(l.peers) }

// SetHandler implements Transport. It starts the dispatch loop.
func (l *Loopback) SetHandler(fn func(from int, m Message)) {
	l.mu.Lock()
	l.handler = fn
	l.mu.Unlock()

	go l.dispatch()
}

func (l *Loopback) dispatch() {
	defer close(l.done)
	for {
		select {
		case in := <-l.inbox:
			l.handler(in.from, in.msg)
		case <-l.quit:
			// Drain messages accepted before Close.
			for {
				select {
				case in := <-l.inbox:
					l.handler(in.from, in.msg)
				default:
					return
				}
			}
		}
	}
}

// Send implements Transport.
func (l *Loopback) Send(ctx context.Context, to int, m Message) error {
	if to < 0 || to >= len(l.peers) {
		return ErrTransportClosed
	}
	peer := l.peers[to]

	select {
	case peer.inbox <- inboundMessage{from: l.rank, msg: m}:
		return nil
	case <-peer.quit:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Transport. Messages accepted before Close are still
// dispatched.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.handler != nil
	l.mu.Unlock()

	close(l.quit)
	if started {
		<-l.done
	}
	return nil
}
