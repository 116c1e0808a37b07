package transport

import (
	"errors"
	"sync"

	"github.com/senutpal/synod/internal/process"
)

// ErrUnknownRecipient is returned by Send when the destination id was
// never registered via AddProcess. Broadcast only sends to registered ids.
var ErrUnknownRecipient = errors.New("transport: unknown recipient")

// mailboxBufferSize is generous enough that a process never blocks a
// sender mid-round: at most a handful of protocol messages are in
// flight per peer at any time, and bootstrap control messages are
// delivered before any protocol traffic starts.
const mailboxBufferSize = 64

// MailboxNetwork is an in-process Transport: one buffered channel per
// registered process id, shared across every Peer handle. It is the
// in-memory analogue of a real network — suitable for the demo CLI and
// for tests — and, together with node.Node, is what realizes the spec's
// "each process is a single-threaded cooperative handler, different
// processes run concurrently" requirement: each registered process gets
// its own channel, which one node.Node goroutine pulls off, so handlers for a given
// process never interleave, while separate processes proceed in
// parallel.
type MailboxNetwork struct {
	mu        sync.RWMutex
	mailboxes map[int]chan Envelope
}

// NewMailboxNetwork returns an empty network. Call AddProcess for each
// process id before using Send/Broadcast/PeerFrom.
func NewMailboxNetwork() *MailboxNetwork {
	return &MailboxNetwork{mailboxes: make(map[int]chan Envelope)}
}

// AddProcess registers id and returns the channel its dispatch loop
// should range over. Calling AddProcess twice for the same id replaces
// its mailbox.
func (n *MailboxNetwork) AddProcess(id int) <-chan Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan Envelope, mailboxBufferSize)
	n.mailboxes[id] = ch
	return ch
}

func (n *MailboxNetwork) Send(to int, msg process.Message, from process.Peer) error {
	n.mu.RLock()
	ch, ok := n.mailboxes[to]
	n.mu.RUnlock()
	if !ok {
		return ErrUnknownRecipient
	}
	env := Envelope{Msg: msg, From: n.replyHandle(to, from)}
	select {
	case ch <- env:
		return nil
	default:
		// The recipient's mailbox is saturated; the protocol tolerates
		// lost messages (no ordering or delivery guarantee), so this is
		// a silent drop rather than a blocking send or an error.
		return nil
	}
}

func (n *MailboxNetwork) Broadcast(msg process.Message, from process.Peer) error {
	n.mu.RLock()
	ids := make([]int, 0, len(n.mailboxes))
	for id := range n.mailboxes {
		ids = append(ids, id)
	}
	n.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := n.Send(id, msg, from); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// replyHandle builds the Peer a recipient should use to talk back to
// whoever sent this envelope. from carries the sender's id (nil for
// bootstrapper control messages, which have no reply semantics).
func (n *MailboxNetwork) replyHandle(recipient int, from process.Peer) process.Peer {
	if from == nil {
		return nil
	}
	return n.PeerFrom(recipient, from.ID())
}

// PeerFrom returns a handle that sends to toID as fromID.
func (n *MailboxNetwork) PeerFrom(fromID, toID int) process.Peer {
	return &boundPeer{net: n, fromID: fromID, toID: toID}
}

// boundPeer is a process.Peer bound to a specific (fromID, toID) pair,
// mirroring the Peer interface dedis-tlc's consensus node uses
// (Send(msg) on a per-destination handle, default Broadcast iterating
// the peer list including self) rather than threading raw ids through
// every call site.
type boundPeer struct {
	net    *MailboxNetwork
	fromID int
	toID   int
}

func (b *boundPeer) ID() int { return b.toID }

func (b *boundPeer) Send(msg process.Message) error {
	return b.net.Send(b.toID, msg, &selfAssertingPeer{id: b.fromID})
}

// selfAssertingPeer is the minimal process.Peer a boundPeer needs to
// pass itself as "from" without being able to receive anything — only
// ID() is ever called on the "from" argument by MailboxNetwork.
type selfAssertingPeer struct{ id int }

func (s *selfAssertingPeer) ID() int                        { return s.id }
func (s *selfAssertingPeer) Send(process.Message) error { return errNotAddressable }

var errNotAddressable = errors.New("transport: selfAssertingPeer is not a deliverable destination")
