package serviceutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalContext(t *testing.T) {
	sigs := make(chan os.Signal, 2)
	exited := make(chan struct{})
	ctx := signalContext(sigs, func() { close(exited) })
	defer signal.Stop(sigs)

	sigs <- syscall.SIGTERM
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	sigs <- syscall.SIGINT
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("second signal did not exit")
	}
}
