// Package bootstrap plays the spec's "Bootstrapper" collaborator: it
// sends each process exactly one membership-info message, then the
// optional crash-enable or hold messages, then exactly one launch
// message. It holds no protocol state of its own; it is a fixed
// sequence of sends over an already-running process group.
package bootstrap

import (
	"github.com/senutpal/synod/internal/process"
	"github.com/senutpal/synod/internal/transport"
)

// Plan describes which processes should start held, or pre-armed to
// crash, before they're launched.
type Plan struct {
	// IDs lists every process id in the group, in order. len(IDs) is N.
	IDs []int
	// CrashIDs receive a Crash message (arming, not triggering, the
	// probabilistic crash) before Launch.
	CrashIDs []int
	// HoldIDs receive a Hold message before Launch.
	HoldIDs []int
}

// Run sends ActorInfo, then any configured Crash/Hold messages, then
// Launch, to every process in plan.IDs. Every process referenced must
// already be registered with net (net.AddProcess) and have a running
// dispatch loop (node.Start), since control messages are delivered
// through the same mailboxes protocol messages use.
func Run(net transport.Transport, plan Plan) {
	n := len(plan.IDs)

	for _, id := range plan.IDs {
		peers := make([]process.Peer, n)
		for _, toID := range plan.IDs {
			peers[toID] = net.PeerFrom(id, toID)
		}
		net.Send(id, process.ActorInfo{Peers: peers, N: n}, nil)
	}

	for _, id := range plan.CrashIDs {
		net.Send(id, process.Crash{}, nil)
	}
	for _, id := range plan.HoldIDs {
		net.Send(id, process.Hold{}, nil)
	}

	for _, id := range plan.IDs {
		net.Send(id, process.Launch{}, nil)
	}
}
