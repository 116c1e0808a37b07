// Command synod launches an N-process binary consensus group in a
// single OS process, wires them over an in-memory mailbox transport,
// bootstraps and launches them, and prints each process's final
// decision once the group settles or a deadline passes.
//
// This plays the role the teacher's cmd/demo binary plays: a flat,
// single-function main with no subcommands, driving the library code
// rather than containing any protocol logic itself.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/senutpal/synod/internal/bootstrap"
	"github.com/senutpal/synod/internal/config"
	"github.com/senutpal/synod/internal/node"
	"github.com/senutpal/synod/internal/process"
	"github.com/senutpal/synod/internal/randsrc"
	"github.com/senutpal/synod/internal/trace"
	"github.com/senutpal/synod/internal/transport"
)

func main() {
	n := flag.Int("n", 5, "number of processes in the group")
	crashIDs := flag.String("crash", "", "comma-separated ids that start armed to crash")
	holdIDs := flag.String("hold", "", "comma-separated ids that start held (no retry after abort)")
	seed := flag.Int64("seed", 0, "random seed; 0 seeds each process from crypto/rand")
	logLevel := flag.String("log-level", "info", "debug, info, or error")
	settle := flag.Duration("settle", 2*time.Second, "how long to wait for the group to settle")
	flag.Parse()

	cfg := config.Default(*n)
	cfg.CrashIDs = parseIDs(*crashIDs)
	cfg.HoldIDs = parseIDs(*holdIDs)
	cfg.Seed = *seed
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(*logLevel)
	recorder := trace.NewInMemoryRecorder()
	net := transport.NewMailboxNetwork()

	nodes := make([]*node.Node, cfg.N)
	for _, id := range cfg.IDs() {
		inbox := net.AddProcess(id)
		rnd := seededSource(cfg.Seed, id)
		proc := process.New(id, rnd, recorder, logger)
		nodes[id] = node.New(proc, inbox)
		nodes[id].Start()
	}
	defer func() {
		for _, nd := range nodes {
			nd.Stop()
		}
	}()

	bootstrap.Run(net, bootstrap.Plan{
		IDs:      cfg.IDs(),
		CrashIDs: cfg.CrashIDs,
		HoldIDs:  cfg.HoldIDs,
	})

	deadline := time.Now().Add(*settle)
	for time.Now().Before(deadline) {
		if allSettled(nodes) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, nd := range nodes {
		fmt.Printf("process %d: proposeResult=%d\n", nd.Process().ID(), nd.Process().ProposeResult())
	}
	for _, d := range recorder.Decides() {
		level.Info(logger).Log("summary", "decide", "process", d.ProcessID, "value", d.Value, "latency", d.Latency)
	}
}

func allSettled(nodes []*node.Node) bool {
	for _, nd := range nodes {
		if nd.Process().ProposeResult() == process.Undecided {
			return false
		}
	}
	return true
}

func parseIDs(csv string) []int {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func seededSource(seed int64, id int) randsrc.Source {
	if seed == 0 {
		return randsrc.NewCryptoSeeded()
	}
	return randsrc.New(seed + int64(id))
}

func newLogger(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	switch strings.ToLower(levelName) {
	case "debug":
		return level.NewFilter(logger, level.AllowDebug())
	case "error":
		return level.NewFilter(logger, level.AllowError())
	default:
		return level.NewFilter(logger, level.AllowInfo())
	}
}
