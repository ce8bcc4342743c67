// Command corostat is a minimal inspection tool for a running
// corowrt.Runtime: it reads periodic metrics snapshots off a
// monitoring channel and prints them, the same "read the snapshot
// channel, print it" shape, but as a standalone driver rather than
// baked into library code. It never reaches into scheduler or channel
// internals directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corowrt/corowrt"
)

func main() {
	workers := flag.Int("workers", 0, "worker pool size (0 = default)")
	interval := flag.Duration("interval", time.Second, "sample interval")
	flag.Parse()

	rt, err := corowrt.New(corowrt.Params{Workers: *workers})
	if err != nil {
		fmt.Fprintf(os.Stderr, "corostat: %v\n", err)
		os.Exit(1)
	}

	stop := corowrt.NewCancelToken()
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	snapshots, err := rt.Monitor(*interval, stop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corostat: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("workers\trunning\tsubmitted\tcompleted\tsteal_ok\tsteal_fail")
	co, err := rt.Spawn(func(self *corowrt.Coroutine) {
		for {
			v, err := snapshots.Recv(self, -1, stop)
			if err != nil {
				return
			}
			snap := v.(corowrt.MetricsSnapshot)
			fmt.Printf("%d\t%v\t%d\t%d\t%d\t%d\n",
				snap.Workers, snap.Running, snap.TasksSubmitted, snap.TasksCompleted,
				snap.StealSucceeded, snap.StealFailed)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "corostat: %v\n", err)
		os.Exit(1)
	}
	_ = co

	<-ctx.Done()
	stop.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rt.Shutdown(shutdownCtx)
}
