// Package node wires a process.Process to a transport.Transport and runs
// its dispatch loop. This is the same wiring responsibility the
// teacher's internal/node package plays for its proposer/acceptor/
// learner trio — Start/Stop around a goroutine that pulls off a mailbox
// and routes each message to the protocol state machine — generalized
// from "one node, three Paxos roles, one transport" to "one node, one
// symmetric process, one mailbox."
package node

import (
	"sync"

	"github.com/senutpal/synod/internal/process"
	"github.com/senutpal/synod/internal/transport"
)

// Node owns a Process and the goroutine that feeds it. Messages for this
// process are delivered strictly one at a time, in the order the
// mailbox yields them, with each Handle call running to completion
// before the next is started — this is what makes the process's
// single-threaded cooperative handling guarantee hold.
type Node struct {
	proc  *process.Process
	inbox <-chan transport.Envelope

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New wires proc to the mailbox net registered it under id (via
// net.AddProcess(id), which the caller must have already done).
func New(proc *process.Process, inbox <-chan transport.Envelope) *Node {
	return &Node{proc: proc, inbox: inbox}
}

// Start begins the dispatch loop in its own goroutine and returns
// immediately.
func (nd *Node) Start() {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.running {
		return
	}
	nd.running = true
	nd.stopCh = make(chan struct{})
	nd.wg.Add(1)
	go nd.run()
}

// Stop signals the dispatch loop to exit and waits for it to do so.
// Already-enqueued messages are not drained; Stop is for orderly test
// and CLI teardown, not for simulating anything the protocol itself
// reasons about.
func (nd *Node) Stop() {
	nd.mu.Lock()
	if !nd.running {
		nd.mu.Unlock()
		return
	}
	nd.running = false
	close(nd.stopCh)
	nd.mu.Unlock()
	nd.wg.Wait()
}

func (nd *Node) run() {
	defer nd.wg.Done()
	for {
		select {
		case <-nd.stopCh:
			return
		case env, ok := <-nd.inbox:
			if !ok {
				return
			}
			nd.proc.Handle(env.Msg, env.From)
		}
	}
}

// Process returns the wired process, for callers that need to read its
// observable state (ProposeResult) without going through a message.
func (nd *Node) Process() *process.Process { return nd.proc }
