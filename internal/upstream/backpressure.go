package upstream

import (
	"sync"
	"time"
)

// Pauser is the abstract capability spec §9 asks for: something whose
// reader can be paused/resumed, handed to a socket wrapper at
// construction instead of a back-pointer to the owning connection. Gate
// (below) implements it; the orchestrator's clientPauser adapts
// Backpressure's upstream-pausing methods to it for the client outbox.
type Pauser interface {
	Pause()
	Resume()
}

// Gate is a Pauser a read loop polls between frames: Wait blocks while
// paused and returns immediately otherwise. It replaces the "stop
// yielding to the handler" language of spec §4.5 with the blocking-I/O
// equivalent — since Go's read loop pulls one whole frame per iteration
// via Splitter.Next, the natural place to apply backpressure is between
// iterations, not mid-frame.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool

	onPause  func()
	onResume func(time.Duration)
	pausedAt time.Time
}

// NewGate builds a Gate. onPause/onResume are optional hooks for metric
// emission (spec §6's *.paused timers); either may be nil.
func NewGate(onPause func(), onResume func(time.Duration)) *Gate {
	g := &Gate{onPause: onPause, onResume: onResume}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.pausedAt = time.Now()
	if g.onPause != nil {
		g.onPause()
	}
}

func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	d := time.Since(g.pausedAt)
	g.cond.Broadcast()
	if g.onResume != nil {
		g.onResume(d)
	}
}

// Wait blocks while the gate is paused.
func (g *Gate) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.paused {
		g.cond.Wait()
	}
}

// Backpressure is BackpressureCoordinator (spec §4.7): it wires the
// client socket's gate to both upstream links' gates so that a full
// write queue in either direction pauses the opposite direction's
// reader.
type Backpressure struct {
	Client *Gate // paused when the client->server write direction backs up
	Source *Gate // paused when server->client (on behalf of source) backs up
	Target *Gate
}

// NewBackpressure wires a coordinator for one connection. onClientPaused
// is invoked with the observed pause duration whenever the client gate
// resumes; onSourcePaused and onTargetPaused likewise per upstream link.
func NewBackpressure(onClientPaused func(time.Duration), onSourcePaused, onTargetPaused func(time.Duration)) *Backpressure {
	return &Backpressure{
		Client: NewGate(nil, onClientPaused),
		Source: NewGate(nil, onSourcePaused),
		Target: NewGate(nil, onTargetPaused),
	}
}

// PauseClientRead pauses the client socket's reader: used when a write
// to one of the upstream links is backing up (spec §4.7, "client→server
// write full on UpstreamLink: pause the client socket's reader").
func (b *Backpressure) PauseClientRead()  { b.Client.Pause() }
func (b *Backpressure) ResumeClientRead() { b.Client.Resume() }

// PauseUpstreamReads pauses both upstream links' receivers: used when
// the write to the client socket is backing up (spec §4.7, "server→
// client write full on the client socket: pause both UpstreamLinks'
// receivers").
func (b *Backpressure) PauseUpstreamReads() {
	b.Source.Pause()
	b.Target.Pause()
}

func (b *Backpressure) ResumeUpstreamReads() {
	b.Source.Resume()
	b.Target.Resume()
}
