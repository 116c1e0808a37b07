// Package transport delivers process.Message values between processes.
// It generalizes the design the teacher's internal/transport package
// only sketched in comments (a Network registry of per-node inbox
// channels, non-blocking buffered sends) into a working implementation:
// MailboxNetwork in memory.go.
//
// Per the spec, delivery is one-message-at-a-time to a recipient and
// carries a reply handle identifying the sender; there is no ordering
// or delivery guarantee beyond what the protocol itself tolerates.
package transport

import "github.com/senutpal/synod/internal/process"

// Transport is what a bootstrapper (or a process's own broadcast code,
// indirectly, through its Peer table) uses to get a message delivered.
type Transport interface {
	// Send delivers msg to the process registered under to, on behalf
	// of from (which may be nil for bootstrapper-originated control
	// messages). Send never blocks on the recipient processing the
	// message; it only enqueues.
	Send(to int, msg process.Message, from process.Peer) error

	// Broadcast delivers msg to every registered process, including
	// the sender itself, on behalf of from.
	Broadcast(msg process.Message, from process.Peer) error

	// PeerFrom returns a Peer that, when Sent to, delivers to toID and
	// is identified to the recipient as having come from fromID. A
	// process's peer table (populated via ActorInfo) is built entirely
	// out of these.
	PeerFrom(fromID, toID int) process.Peer
}

// Envelope is what a process's dispatch loop reads off its mailbox: a
// message plus the reply handle for whoever sent it.
type Envelope struct {
	Msg  process.Message
	From process.Peer
}
