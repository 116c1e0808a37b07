// Package process implements the per-process state machine for a
// leaderless Paxos-synod binary consensus round: the READ/ABORT/GATHER
// phase that picks a safe value, the IMPOSE/ACK/DECIDE phase that commits
// it, ballot bookkeeping that keeps ballots unique per process, and the
// probabilistic crash a process can be armed to simulate.
//
// A Process is driven entirely by Handle: every message it receives,
// including its own broadcasts, arrives through Handle and is processed
// to completion before the next one is considered. Callers (node.Node's
// per-process dispatch loop) are responsible for delivering
// messages one at a time; Process itself does no queuing.
package process

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/senutpal/synod/internal/randsrc"
	"github.com/senutpal/synod/internal/trace"
)

// Undecided, Aborted and the non-negative decided values are the three
// shapes ProposeResult can take.
const (
	Undecided = -2
	Aborted   = -1
)

// CrashProbability is alpha: the per-guarded-call odds that an armed
// process crashes instead of handling the message.
const CrashProbability = 0.1

// state tracks (value, ballot) pairs collected during a GATHER phase,
// one slot per peer id. This replaces the source's nested pair class
// with a flat struct, indexed directly by sender id rather than by
// ballot arithmetic.
type state struct {
	value  int
	ballot int
}

// Process is one participant: proposer and acceptor at once, as the
// protocol is leaderless and fully symmetric.
type Process struct {
	id int
	n  int

	peers []Peer

	ballot       int
	proposal     int
	readBallot   int
	imposeBallot int
	estimate     int

	states         []state
	receivedStates int
	gatherLatched  bool

	ackCount      int
	ackLatched    bool

	launched bool
	launchAt time.Time

	shouldCrash bool
	crashed     bool
	hold        bool

	proposeResult int

	rand     randsrc.Source
	recorder trace.Recorder
	logger   log.Logger
}

// New constructs a process with only its id set. It does nothing until
// it receives ActorInfo. rnd and recorder must not be nil; logger may be
// a log.NewNopLogger() if the caller doesn't want output.
func New(id int, rnd randsrc.Source, recorder trace.Recorder, logger log.Logger) *Process {
	return &Process{
		id:            id,
		proposeResult: Undecided,
		rand:          rnd,
		recorder:      recorder,
		logger:        log.With(logger, "process", id),
	}
}

// ID returns this process's id (also its Peer identity).
func (p *Process) ID() int { return p.id }

// ProposeResult returns the current decision state: Undecided (-2),
// Aborted (-1), or a decided value (0 or 1 for this protocol, though the
// handler does not itself constrain the value's range).
func (p *Process) ProposeResult() int { return p.proposeResult }

// Handle dispatches one message to the appropriate handler. from is the
// reply handle for the sender; it is nil for the four bootstrap control
// messages, which have no peer-reply semantics.
func (p *Process) Handle(msg Message, from Peer) {
	switch m := msg.(type) {
	case ActorInfo:
		p.onActorInfo(m)
	case Launch:
		p.onLaunch()
	case Crash:
		p.onCrash()
	case Hold:
		p.onHold()
	case Read:
		if !p.guard(true) {
			return
		}
		p.onRead(m, from)
	case Abort:
		// The "already decided" half of the common guard lists only
		// Read/Gather/Impose/Ack; Abort (like Decide) is exempt from it,
		// so it is still gated on crashed/crash-coin only.
		if !p.guard(false) {
			return
		}
		p.onAbort(m)
	case Gather:
		if !p.guard(true) {
			return
		}
		p.onGather(m, from)
	case Impose:
		if !p.guard(true) {
			return
		}
		p.onImpose(m, from)
	case Ack:
		if !p.guard(true) {
			return
		}
		p.onAck(m)
	case Decide:
		if !p.guard(false) {
			return
		}
		p.onDecide(m)
	}
}

// guard implements the common guard shared by every protocol handler
// except ActorInfo/Launch/Crash/Hold: drop if already crashed, drop if
// already decided (skipped for Decide itself, which must land even
// after a local abort), and roll the crash coin if armed.
//
// checkDecided is false for Abort and Decide: the spec's common guard
// lists only Read/Gather/Impose/Ack for the already-decided check, so a
// late Decide can still land after a local abort, and an Abort is
// judged purely on crashed/crash-coin state.
func (p *Process) guard(checkDecided bool) bool {
	if p.crashed {
		return false
	}
	if checkDecided && p.proposeResult >= 0 {
		return false
	}
	if p.shouldCrash && p.rand.Float64() < CrashProbability {
		p.crash()
		return false
	}
	return true
}

func (p *Process) crash() {
	p.crashed = true
	p.recorder.RecordCrash(p.id)
	level.Info(p.logger).Log("event", "crash")
}

// onActorInfo initializes the peer table and resets every protocol
// field to its starting value, per the data model in the spec.
func (p *Process) onActorInfo(m ActorInfo) {
	p.n = m.N
	p.peers = m.Peers
	p.ballot = p.id - p.n
	p.proposal = 0
	p.readBallot = 0
	p.imposeBallot = p.id - p.n
	p.estimate = 0
	p.states = make([]state, p.n)
	p.receivedStates = 0
	p.gatherLatched = false
	p.ackCount = 0
	p.ackLatched = false
	p.launched = false
	p.shouldCrash = false
	p.crashed = false
	p.hold = false
	p.proposeResult = Undecided
}

func (p *Process) onLaunch() {
	if p.launched {
		return
	}
	p.launched = true
	p.launchAt = time.Now()
	initial := p.rand.Intn(2)
	p.propose(initial)
}

func (p *Process) onCrash() {
	p.shouldCrash = true
}

func (p *Process) onHold() {
	p.hold = true
}

// propose starts (or restarts, after an Abort) an attempt to commit v.
// It is gated by the same crash logic as every message handler, then
// bumps the ballot, clears the per-round GATHER and ACK state, and
// broadcasts Read to everyone including itself. Clearing ackCount here
// too matters: onAck only gates stale replies by comparing ballots, it
// never otherwise zeroes the counter, so a count left over from an
// aborted round would otherwise carry forward and combine with
// current-round Acks to cross the majority threshold early.
func (p *Process) propose(v int) {
	if p.crashed {
		return
	}
	if p.shouldCrash && p.rand.Float64() < CrashProbability {
		p.crash()
		return
	}
	p.proposal = v
	p.ballot += p.n
	for i := range p.states {
		p.states[i] = state{}
	}
	p.receivedStates = 0
	p.gatherLatched = false
	p.ackCount = 0
	p.ackLatched = false
	p.broadcast(Read{Ballot: p.ballot})
	p.recorder.RecordBroadcast(p.id, trace.KindRead, p.ballot, v)
}

func (p *Process) onRead(m Read, from Peer) {
	if p.readBallot > m.Ballot || p.imposeBallot > m.Ballot {
		p.reply(from, Abort{Ballot: m.Ballot})
		return
	}
	p.readBallot = m.Ballot
	p.reply(from, Gather{Ballot: m.Ballot, ImposeBallot: p.imposeBallot, Estimate: p.estimate})
}

func (p *Process) onAbort(m Abort) {
	p.proposeResult = Aborted
	level.Debug(p.logger).Log("event", "abort", "ballot", m.Ballot)
	if !p.hold {
		p.propose(p.proposal)
	}
}

// onGather records one acceptor's (estimate, imposeBallot) reply to our
// current Read. It is gated on the ballot matching our live round: a
// reply for a ballot we've since moved past must not be allowed to
// contribute to, or cross, the quorum latch.
func (p *Process) onGather(m Gather, from Peer) {
	if m.Ballot != p.ballot {
		return
	}
	if from != nil {
		p.states[from.ID()] = state{value: m.Estimate, ballot: m.ImposeBallot}
	}
	p.receivedStates++
	if p.receivedStates > p.n/2 && !p.gatherLatched {
		p.gatherLatched = true

		best := -1
		bestBallot := 0
		for _, s := range p.states {
			if s.ballot > 0 && (best == -1 || s.ballot > bestBallot) {
				best = s.value
				bestBallot = s.ballot
			}
		}
		if best != -1 {
			p.proposal = best
		}

		p.broadcast(Impose{Ballot: p.ballot, Value: p.proposal})
		p.recorder.RecordBroadcast(p.id, trace.KindImpose, p.ballot, p.proposal)
	}
}

func (p *Process) onImpose(m Impose, from Peer) {
	if p.readBallot > m.Ballot || p.imposeBallot > m.Ballot {
		p.reply(from, Abort{Ballot: m.Ballot})
		return
	}
	p.estimate = m.Value
	p.imposeBallot = m.Ballot
	p.reply(from, Ack{Ballot: m.Ballot})
}

// onAck counts one acceptor's confirmation of our current Impose. Like
// onGather, it is gated on the ballot matching our live round so a late
// Ack from a superseded attempt cannot cross the latch.
func (p *Process) onAck(m Ack) {
	if m.Ballot != p.ballot {
		return
	}
	p.ackCount++
	if p.ackCount > p.n/2 && !p.ackLatched {
		p.ackLatched = true
		if !p.launchAt.IsZero() {
			p.recorder.RecordDecide(p.id, p.proposal, time.Since(p.launchAt))
			level.Info(p.logger).Log("event", "decide", "value", p.proposal, "latency", time.Since(p.launchAt))
		}
		p.broadcast(Decide{Value: p.proposal})
		p.recorder.RecordBroadcast(p.id, trace.KindDecide, p.ballot, p.proposal)
	}
}

// onDecide is exempt from the common guard's already-decided check: a
// Decide must be able to land even after this process locally aborted.
// A second Decide carrying a different value than one already recorded
// indicates a protocol bug rather than a normal path, so it is logged
// as a divergence assertion instead of silently accepted or panicking.
func (p *Process) onDecide(m Decide) {
	if p.proposeResult >= 0 && p.proposeResult != m.Value {
		level.Error(p.logger).Log("event", "divergence", "have", p.proposeResult, "got", m.Value)
	}
	p.proposeResult = m.Value
}

func (p *Process) broadcast(msg Message) {
	for _, peer := range p.peers {
		if peer == nil {
			continue
		}
		if err := peer.Send(msg); err != nil {
			level.Debug(p.logger).Log("event", "send_error", "to", peer.ID(), "err", err)
		}
	}
}

func (p *Process) reply(to Peer, msg Message) {
	if to == nil {
		return
	}
	if err := to.Send(msg); err != nil {
		level.Debug(p.logger).Log("event", "send_error", "to", to.ID(), "err", err)
	}
}
