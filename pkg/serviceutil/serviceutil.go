package serviceutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled on the first SIGINT or SIGTERM so a running
// stage can stop before it persists anything. A second signal exits at once.
func SignalContext() context.Context {
	return signalContext(make(chan os.Signal, 2), func() { os.Exit(130) })
}

func signalContext(sigs chan os.Signal, exit func()) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Warn("interrupted, finishing the current step", "signal", sig.String())
		cancel()

		<-sigs
		slog.Error("interrupted twice, exiting")
		exit()
	}()
	return ctx
}
