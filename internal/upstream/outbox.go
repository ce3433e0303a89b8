package upstream

// Outbox is a bounded queue in front of a socket write path. Once its
// depth crosses highWater it pauses a Pauser (the opposite direction's
// reader per spec §4.7); once it drains back to empty it resumes it. This is the concrete form of "any of the three write queues
// fills" from spec §4.7 — Go's blocking net.Conn writes already provide
// flow control at the OS level, so the queue modeled here is the
// proxy-side buffer that exists specifically so one slow direction
// doesn't let the other accumulate unbounded in-flight work.
type Outbox struct {
	items chan []byte
	pause Pauser

	highWater int
}

// NewOutbox creates an Outbox with the given capacity. pause is notified
// (Pause/Resume) as the queue crosses highWater (capacity) and drains
// back to zero.
func NewOutbox(capacity int, pause Pauser) *Outbox {
	return &Outbox{
		items:     make(chan []byte, capacity),
		pause:     pause,
		highWater: capacity,
	}
}

// Push enqueues payload, pausing the opposite reader first if this push
// would fill the queue to capacity. Push itself never blocks the caller
// beyond a full channel send; draining is done by Drain in its own
// goroutine.
func (o *Outbox) Push(payload []byte) {
	if len(o.items) >= o.highWater-1 && o.pause != nil {
		o.pause.Pause()
	}
	o.items <- payload
}

// Drain runs the actual write loop; write is typically conn.Write (or a
// Splitter.Encode-based writer). It returns when the outbox is closed.
func (o *Outbox) Drain(write func([]byte) error) error {
	for payload := range o.items {
		if err := write(payload); err != nil {
			return err
		}
		if len(o.items) == 0 && o.pause != nil {
			o.pause.Resume()
		}
	}
	return nil
}

func (o *Outbox) Close() { close(o.items) }
