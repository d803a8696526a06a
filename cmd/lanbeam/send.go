package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/sender"
	"github.com/lanbeam/lanbeam/session"
)

var (
	flagSendFile string
	flagSendTo   string
	flagSendPort int
	flagSendWait time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one file to a listening peer",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&flagSendFile, "file", "", "path of the file to send")
	sendCmd.Flags().StringVar(&flagSendTo, "to", "", "host or IP of the listening peer")
	sendCmd.Flags().IntVar(&flagSendPort, "port", 4817, "TCP port of the listening peer")
	sendCmd.Flags().DurationVar(&flagSendWait, "timeout", 0, "per-read peer timeout (0 = default)")
	sendCmd.MarkFlagRequired("file")
	sendCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	f, err := os.Open(flagSendFile)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory; lanbeam sends single files", flagSendFile)
	}
	size := uint64(info.Size())
	name := filepath.Base(flagSendFile)

	bar := progressbar.DefaultBytes(info.Size(), "sending "+name)

	outcome := sender.Send(sender.Config{
		Host:             flagSendTo,
		Port:             flagSendPort,
		Source:           f,
		FileName:         name,
		FileSize:         size,
		HandshakeTimeout: flagSendWait,
		StallTimeout:     flagSendWait,
		Progress: func(transferred uint64) {
			_ = bar.Set64(int64(transferred))
		},
	})

	switch outcome.Status {
	case session.StatusCompleted:
		bar.Finish()
		fmt.Fprintf(os.Stderr, "sent %s (%d bytes)\n", name, outcome.Bytes)
		return nil
	case session.StatusRejected:
		bar.Clear()
		fmt.Fprintf(os.Stderr, "peer declined: %s\n", outcome.Reason)
		os.Exit(exitRejected)
	default:
		bar.Clear()
		fmt.Fprintf(os.Stderr, "transfer failed: %v\n", outcome.Err)
		os.Exit(exitFailed)
	}
	return nil
}
