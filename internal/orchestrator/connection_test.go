package orchestrator

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// An idle client with no in-flight reads must still observe an upstream
// failure promptly: fail must close the client socket itself rather than
// rely on the next client frame to notice c.failed (spec §5/§7.4).
func TestFailClosesClientConnection(t *testing.T) {
	clientSide, otherSide := net.Pipe()
	defer otherSide.Close()

	c := &Connection{
		client: clientSide,
		logger: zap.NewNop(),
		failed: make(chan struct{}),
	}

	readErr := make(chan error, 1)
	go func() {
		_, err := otherSide.Read(make([]byte, 1))
		readErr <- err
	}()

	c.fail(fmt.Errorf("upstream closed"))

	select {
	case err := <-readErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("fail did not unblock the client's blocked read")
	}
}

func TestFailOnlyClosesClientOnce(t *testing.T) {
	clientSide, otherSide := net.Pipe()
	defer otherSide.Close()

	c := &Connection{
		client: clientSide,
		logger: zap.NewNop(),
		failed: make(chan struct{}),
	}

	require.NotPanics(t, func() {
		c.fail(fmt.Errorf("first"))
		c.fail(fmt.Errorf("second"))
	})
}
