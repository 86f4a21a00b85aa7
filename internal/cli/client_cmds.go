package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newApplyCmd() *cobra.Command {
	var output, mode string
	cmd := &cobra.Command{
		Use:   "apply <path>",
		Short: "Set a wallpaper on one or all outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			msg, err := client().Apply(path, output, mode)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Target output connector name (default: all)")
	cmd.Flags().StringVar(&mode, "mode", "", "Fit mode: fill, contain, stretch or centre")
	return cmd
}

func newPauseCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Pause(output)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Target output connector name (default: all)")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Resume(output)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Target output connector name (default: all)")
	return cmd
}

func newStopCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Clear wallpapers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Stop(output)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Target output connector name (default: all)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, raw, err := client().Status()
			if err != nil {
				return err
			}
			if asJSON {
				os.Stdout.Write(append(raw, '\n'))
				return nil
			}
			fmt.Printf("wayvid %s, running\n", status.Version)
			if len(status.Outputs) == 0 {
				fmt.Println("no active wallpapers")
				return nil
			}
			for _, out := range status.Outputs {
				state := "playing"
				if out.Paused {
					state = "paused"
				}
				fmt.Printf("  %-12s %s [%s, %s, volume %.2f]\n",
					out.Name, out.Wallpaper, state, out.Layout, out.Volume)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON response")
	return cmd
}

func newOutputsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "List connected outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Outputs()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(resp.Outputs, "", "  ")
			if err != nil {
				return err
			}
			os.Stdout.Write(append(data, '\n'))
			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether the daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Ping(); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func newQuitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Shut the daemon down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Quit()
		},
	}
}
