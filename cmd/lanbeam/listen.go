package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/receiver"
	"github.com/lanbeam/lanbeam/session"
)

var (
	flagListenPort int
	flagOutputDir  string
	flagMaxSize    uint64
	flagOverwrite  bool
	flagTimeout    time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept inbound file transfers until interrupted",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().IntVar(&flagListenPort, "port", 4817, "TCP port to listen on")
	listenCmd.Flags().StringVar(&flagOutputDir, "output", ".", "directory to store received files in")
	listenCmd.Flags().Uint64Var(&flagMaxSize, "max-size", 0, "reject offers larger than this many bytes (0 = unlimited)")
	listenCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "allow incoming files to replace existing ones")
	listenCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "per-read peer timeout (0 = default)")

	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	policy := session.AcceptAll()
	if flagMaxSize > 0 {
		policy = session.MaxSize(flagMaxSize)
	}

	r, err := receiver.New(receiver.Config{
		Port:             flagListenPort,
		OutputDir:        flagOutputDir,
		Overwrite:        flagOverwrite,
		Policy:           policy,
		HandshakeTimeout: flagTimeout,
		StallTimeout:     flagTimeout,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "listening on %s, storing files in %s\n", r.Addr(), flagOutputDir)

	// Stop accepting on SIGINT/SIGTERM, then drain in-flight sessions.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		fmt.Fprintln(os.Stderr, "shutdown signal received, draining sessions")
		r.Stop()
	}()

	if err := r.Serve(); err != nil {
		return err
	}
	r.Wait()
	return nil
}
