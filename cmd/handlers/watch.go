package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/tui"
)

// NewWatchCmd creates the watch command, a live terminal view of one task
func NewWatchCmd() *cobra.Command {
	var (
		serverURL string
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <task_id>",
		Short: "Follow an analysis task in a terminal UI",
		Long: `Poll a running pulse server for a task's progress and show its
personas once the task completes.

Examples:
  pulse watch 3f1c2a9e-7d4b-4c2a-9f00-2b8c1d5e6f70
  pulse watch 3f1c2a9e-... --server http://analysis.internal:8000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				srv := config.GetServer()
				host := srv.Host
				if host == "" || host == "0.0.0.0" {
					host = "localhost"
				}
				serverURL = fmt.Sprintf("http://%s:%d", host, srv.Port)
			}
			return tui.Watch(tui.NewAPIClient(serverURL), args[0], interval)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of the pulse server (default from server.host and server.port)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	return cmd
}
