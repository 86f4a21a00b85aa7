// Package cli wires the wayvid binary: the daemon under `wayvid run` and the
// socket-client subcommands that drive it.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuxx/wayvid/internal/config"
	"github.com/tuxx/wayvid/internal/ipc"
)

// Build metadata, overridden via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Exit codes of the control CLI.
const (
	exitOK          = 0
	exitClientError = 1
	exitUnreachable = 2
	exitServerError = 3
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wayvid",
		Short:         "Wayland video wallpaper daemon",
		Long:          "WayVid: animated video wallpapers for wlroots compositors.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newApplyCmd())
	root.AddCommand(newPauseCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newOutputsCmd())
	root.AddCommand(newPingCmd())
	root.AddCommand(newQuitCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the CLI and maps errors onto the documented exit codes.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var unreachable ipc.ErrUnreachable
		var server ipc.ServerError
		switch {
		case errors.As(err, &unreachable):
			os.Exit(exitUnreachable)
		case errors.As(err, &server):
			os.Exit(exitServerError)
		default:
			os.Exit(exitClientError)
		}
	}
	os.Exit(exitOK)
}

func client() *ipc.Client {
	return ipc.NewClient(config.SocketPath())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wayvid %s (%s) built on %s\n", Version, Commit, BuildDate)
		},
	}
}
