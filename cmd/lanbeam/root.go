package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes. Rejection is distinct from failure so scripts can tell
// "peer declined" apart from "transfer broke".
const (
	exitOK       = 0
	exitFailed   = 1
	exitRejected = 2
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "lanbeam",
	Short: "Peer-to-peer single-file transfer over a direct TCP connection",
	Long: `lanbeam transfers exactly one file between two peers with no central
coordinator, no discovery service and no relay. Run "lanbeam listen" on
the receiving machine and "lanbeam send" on the sending one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "emit logs as JSON")
}

func configureLogging() {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
	if flagJSONLog {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Execute runs the CLI and exits the process with the command's code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Execute",
			"error":    err.Error(),
		}).Error("Command failed")
		os.Exit(exitFailed)
	}
}
