package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "voicemesh",
	Short: "Headless participant for a VoiceMesh room",
	Long: `voicemesh joins a VoiceMesh relay as a regular participant. It chats,
sends a test tone as its microphone and can share an IVF file as its screen,
with a direct WebRTC connection to every other participant in voice.`,
}

func init() {
	config.AddClientFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(joinCmd, rosterCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
