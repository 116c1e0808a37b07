// Package e2e drives full process groups over the real in-memory
// transport and bootstrap path, and checks the spec's testable
// properties (agreement, validity, integrity, ballot uniqueness,
// quorum monotonicity, crash absorption) against the recorded trace of
// an actual run, rather than against internals of any one process.
package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/synod/internal/bootstrap"
	"github.com/senutpal/synod/internal/node"
	"github.com/senutpal/synod/internal/process"
	"github.com/senutpal/synod/internal/randsrc"
	"github.com/senutpal/synod/internal/trace"
	"github.com/senutpal/synod/internal/transport"
)

const pollTimeout = 2 * time.Second
const pollInterval = 2 * time.Millisecond

// group is a running N-process consensus group wired over a
// MailboxNetwork, ready for bootstrap.Run.
type group struct {
	net      *transport.MailboxNetwork
	nodes    []*node.Node
	recorder *trace.InMemoryRecorder
}

// buildGroup constructs n processes. initialProposal[i] pins process
// i's Launch-time coin flip; forceCrash[i] pins process i's crash coin
// to always fire once armed. Both default to "never crash, propose 0"
// when absent.
func buildGroup(n int, initialProposal map[int]int, forceCrash map[int]bool) *group {
	net := transport.NewMailboxNetwork()
	rec := trace.NewInMemoryRecorder()
	nodes := make([]*node.Node, n)

	for id := 0; id < n; id++ {
		inbox := net.AddProcess(id)

		floats := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
		if forceCrash[id] {
			floats = []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
		}
		ints := []int{initialProposal[id]}
		rnd := &randsrc.Scripted{Floats: floats, Ints: ints}

		proc := process.New(id, rnd, rec, nopLogger())
		nd := node.New(proc, inbox)
		nd.Start()
		nodes[id] = nd
	}

	return &group{net: net, nodes: nodes, recorder: rec}
}

func (g *group) stop() {
	for _, nd := range g.nodes {
		nd.Stop()
	}
}

func (g *group) ids() []int {
	ids := make([]int, len(g.nodes))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// waitUntil polls cond until it returns true or pollTimeout elapses,
// returning whether cond was ever observed true.
func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return cond()
}

func (g *group) decidedCount(exclude map[int]bool) int {
	n := 0
	for _, nd := range g.nodes {
		if exclude[nd.Process().ID()] {
			continue
		}
		if nd.Process().ProposeResult() >= 0 {
			n++
		}
	}
	return n
}

func (g *group) allDecided(exclude map[int]bool) bool {
	return g.decidedCount(exclude) == len(g.nodes)-len(exclude)
}

// S1: all three processes propose 1; all three must decide 1.
func TestScenarioS1Unanimous(t *testing.T) {
	g := buildGroup(3, map[int]int{0: 1, 1: 1, 2: 1}, nil)
	defer g.stop()

	bootstrap.Run(g.net, bootstrap.Plan{IDs: g.ids()})

	require.True(t, waitUntil(func() bool { return g.allDecided(nil) }), "all processes must reach a decision")
	for _, nd := range g.nodes {
		assert.Equal(t, 1, nd.Process().ProposeResult())
	}
}

// S2: mixed proposals (0, 1, 1). Every process that decides must agree,
// and under a reliable transport at least one process decides.
func TestScenarioS2MixedProposals(t *testing.T) {
	g := buildGroup(3, map[int]int{0: 0, 1: 1, 2: 1}, nil)
	defer g.stop()

	bootstrap.Run(g.net, bootstrap.Plan{IDs: g.ids()})

	require.True(t, waitUntil(func() bool { return g.decidedCount(nil) >= 1 }), "at least one process must decide")

	decided := -1
	for _, nd := range g.nodes {
		v := nd.Process().ProposeResult()
		if v < 0 {
			continue
		}
		if decided == -1 {
			decided = v
		} else {
			assert.Equal(t, decided, v, "agreement: every decided process must agree on the same value")
		}
	}
	assert.Contains(t, []int{0, 1}, decided, "validity: the decided value must be one of the proposed values")
}

// S3: five processes propose 0; process 2 is armed to crash and its
// coin is forced to fire on its very first draw (in propose(), or in the
// guard of a peer's Read if one reaches it before its own Launch), so it
// crashes before ever broadcasting a Read. The
// remaining four still reach agreement on 0 (a 3-of-5 quorum excludes
// process 2 entirely).
func TestScenarioS3CrashBeforeFirstRead(t *testing.T) {
	g := buildGroup(5, map[int]int{0: 0, 1: 0, 2: 0, 3: 0, 4: 0}, map[int]bool{2: true})
	defer g.stop()

	bootstrap.Run(g.net, bootstrap.Plan{IDs: g.ids(), CrashIDs: []int{2}})

	excl := map[int]bool{2: true}
	require.True(t, waitUntil(func() bool { return g.allDecided(excl) }), "the four live processes must still reach a decision")

	for _, nd := range g.nodes {
		if nd.Process().ID() == 2 {
			continue
		}
		assert.Equal(t, 0, nd.Process().ProposeResult())
	}

	require.True(t, waitUntil(func() bool { return len(g.recorder.Crashed()) >= 1 }))
	assert.Contains(t, g.recorder.Crashed(), 2)
	assert.Empty(t, g.recorder.EventsByProcessAndKind(2, trace.KindRead), "a process crashed before its first Read must never have broadcast one")
}

// TestBallotUniquenessAndQuorumMonotonicity exercises properties 4 and 5
// from the spec's testable-properties list over a larger run: every
// recorded ballot must be congruent to its process's id modulo N, and
// no process may broadcast more than one Impose or one Decide for the
// same ballot.
func TestBallotUniquenessAndQuorumMonotonicity(t *testing.T) {
	const n = 5
	initials := map[int]int{}
	for i := 0; i < n; i++ {
		initials[i] = i % 2
	}
	g := buildGroup(n, initials, nil)
	defer g.stop()

	bootstrap.Run(g.net, bootstrap.Plan{IDs: g.ids()})
	require.True(t, waitUntil(func() bool { return g.allDecided(nil) }))

	events := g.recorder.Events()
	require.NotEmpty(t, events)

	imposeByProcessBallot := map[[2]int]int{}
	decideByProcessBallot := map[[2]int]int{}
	for _, e := range events {
		assert.Equal(t, e.ProcessID%n, ((e.Ballot%n)+n)%n, "ballot must stay congruent to the process id modulo N")
		switch e.Kind {
		case trace.KindImpose:
			imposeByProcessBallot[[2]int{e.ProcessID, e.Ballot}]++
		case trace.KindDecide:
			decideByProcessBallot[[2]int{e.ProcessID, e.Ballot}]++
		}
	}
	for k, count := range imposeByProcessBallot {
		assert.LessOrEqualf(t, count, 1, "process %d must broadcast at most one Impose for ballot %d", k[0], k[1])
	}
	for k, count := range decideByProcessBallot {
		assert.LessOrEqualf(t, count, 1, "process %d must broadcast at most one Decide for ballot %d", k[0], k[1])
	}

	// Ballot uniqueness across processes: no two distinct processes may
	// ever have broadcast from the same ballot number.
	ballotOwner := map[int]int{}
	for _, e := range events {
		if owner, ok := ballotOwner[e.Ballot]; ok {
			assert.Equal(t, owner, e.ProcessID, "ballot %d must never be used by two different processes", e.Ballot)
		} else {
			ballotOwner[e.Ballot] = e.ProcessID
		}
	}
}

func nopLogger() logger { return logger{} }

// logger is a minimal no-op log.Logger so e2e tests don't have to pull
// in a real sink; Process only needs something satisfying
// go-kit's Logger interface (Log(keyvals ...interface{}) error).
type logger struct{}

func (logger) Log(keyvals ...interface{}) error { return nil }
