package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/tui"
)

var serverURL string

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live dashboard of a running server",
	Long: `Poll a running conductor server and show capacity, queue depth,
active tasks and agent load.

Keys: tab switches between tasks and agents, r refreshes, q quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return tui.Run(ctx, tui.NewHTTPSource(baseURL()), cfg.TUI.RefreshRate)
	},
}

func init() {
	for _, c := range []*cobra.Command{topCmd, submitCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "server base URL (default derived from server.addr)")
	}
}

// baseURL returns --server, or a local URL for the configured listen
// address.
func baseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}
