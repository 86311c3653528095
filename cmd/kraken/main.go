package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/wpk-/kraken/graph"
	"github.com/wpk-/kraken/network"
	"github.com/wpk-/kraken/signaling"
	"github.com/wpk-/kraken/state"
	"github.com/wpk-/kraken/webrtc"
)

// initialState is the value every peer starts from; the first accepted
// proposal steps away from it.
const initialState = "origin"

// maxHistory bounds the diverging graph; every accepted proposal prunes
// back down to this many nodes.
const maxHistory = 256

var defaultICEServers = []string{"stun:stun.l.google.com:19302"}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <relay-url>\n", os.Args[0])
		os.Exit(1)
	}
	relayURL := os.Args[1]

	// Create a new slog handler with the default PTerm logger
	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)

	// Create a new slog logger with the handler
	logger := slog.New(handler)

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("K", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("raken", pterm.FgDarkGray.ToStyle()),
	).Render()

	name, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your display name").WithDefaultValue(" ").Show()
	pterm.Println()
	pterm.Info.Printfln("Your display name: %s", name)

	id := network.NewID()
	pterm.Info.Printfln("Your peer id: %s", id)

	client, err := signaling.NewClient(relayURL, id)
	if err != nil {
		logger.Error("failed to reach the relay", "url", relayURL, "err", err.Error())
		panic(err)
	}
	defer client.Close()

	app := &app{logger: logger}
	app.next = state.New(initialState)
	app.history = graph.New(graph.WithAdvanceFunc(func(key string, data any) {
		pterm.Success.Printfln("Converged on: %s", key)
	}))

	group, err := network.NewPeerGroup(id, client,
		webrtc.Factory(webrtc.Config{ICEServers: defaultICEServers}),
		network.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create the peer group", "err", err.Error())
		panic(err)
	}
	app.group = group

	go func() {
		for batch := range client.Batches {
			group.Receive(batch)
		}
	}()
	go app.eventLoop()

	group.Announce()
	pterm.Info.Println("Announced on the relay, waiting for peers")
	pterm.Print("\n")

	for {
		value, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Propose the next shared state. When done, type done").WithDefaultValue("").Show()
		pterm.Println()
		if value == "done" {
			break
		}
		if value == "" {
			app.printStatus()
			continue
		}
		app.propose(value)
	}
	group.Leave()
}

// app holds the convergence engine behind one mutex: the event loop and the
// input loop both drive it.
type app struct {
	logger *slog.Logger

	mu      sync.Mutex
	next    *state.NextState
	history *graph.DivergingGraph
	group   *network.PeerGroup
}

func (a *app) eventLoop() {
	for {
		select {
		case ev := <-a.group.Events:
			switch ev.Kind {
			case network.PeerJoin:
				pterm.Info.Printfln("Peer joined: %s", ev.Peer)
				a.confirmState()
			case network.PeerLeave:
				pterm.Warning.Printfln("Peer left: %s", ev.Peer)
			case network.Message:
				a.handleProposal(ev.Peer, ev.Data)
			}
		case err := <-a.group.Errors:
			a.logger.Warn("mesh error", "err", err.Error())
		}
	}
}

// propose advances the local record optimistically and broadcasts the
// proposal; remote evaluations decide whether it sticks.
func (a *app) propose(value string) {
	a.mu.Lock()
	p := a.next.Propose(value)
	rec := a.next.Advance(p)
	a.record(p, rec)
	a.mu.Unlock()
	a.broadcast(p)
	pterm.Info.Printfln("Proposed %s at step %d", rec.State, rec.Time)
}

// confirmState re-announces the current record so a late joiner can fast
// forward onto it.
func (a *app) confirmState() {
	a.mu.Lock()
	rec := a.next.Record()
	a.mu.Unlock()
	a.broadcast(state.Proposal{
		Next:    rec.State,
		State:   rec.State,
		Time:    rec.Time,
		Lottery: rec.Lottery,
	})
}

func (a *app) handleProposal(peer, payload string) {
	var p state.Proposal
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		a.logger.Warn("dropping malformed proposal", "peer", peer, "err", err.Error())
		return
	}
	a.mu.Lock()
	ev := a.next.Evaluate(p)
	if !ev.Accept {
		a.mu.Unlock()
		a.logger.Debug("proposal rejected", "peer", peer, "code", string(ev.Code), "reason", ev.Reason)
		return
	}
	rec := a.next.Advance(p)
	a.record(p, rec)
	a.mu.Unlock()
	a.logger.Info("proposal accepted", "peer", peer, "code", string(ev.Code), "state", rec.State, "time", rec.Time)
}

// record files the accepted step in the history and prunes it back down.
// A protocol violation means two proposals claimed the same identity; the
// offender is logged and the history keeps the first claim.
func (a *app) record(p state.Proposal, rec state.StateRecord) {
	if err := a.history.AddEdge(p.State, p.Next, rec); err != nil {
		a.logger.Warn("history rejected the step", "from", p.State, "to", p.Next, "err", err.Error())
		return
	}
	a.history.Prune(maxHistory)
}

func (a *app) broadcast(p state.Proposal) {
	payload, err := json.Marshal(p)
	if err != nil {
		a.logger.Error("encode proposal", "err", err.Error())
		return
	}
	a.group.Send(string(payload))
}
