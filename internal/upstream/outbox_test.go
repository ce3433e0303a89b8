package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPauser struct {
	paused  int
	resumed int
}

func (p *recordingPauser) Pause()  { p.paused++ }
func (p *recordingPauser) Resume() { p.resumed++ }

func TestOutboxPausesOnlyWhenFull(t *testing.T) {
	p := &recordingPauser{}
	o := NewOutbox(2, p)

	o.Push([]byte("a"))
	require.Equal(t, 0, p.paused)
	o.Push([]byte("b")) // queue now at capacity-1 threshold
	require.Equal(t, 1, p.paused)
}

func TestOutboxDrainResumesWhenEmpty(t *testing.T) {
	p := &recordingPauser{}
	o := NewOutbox(1, p)
	o.Push([]byte("a"))
	require.Equal(t, 1, p.paused)

	var written [][]byte
	go func() {
		_ = o.Drain(func(payload []byte) error {
			written = append(written, payload)
			return nil
		})
	}()
	o.Close()

	require.Eventually(t, func() bool { return p.resumed == 1 }, time.Second, 10*time.Millisecond)
}
