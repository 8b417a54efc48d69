package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/greenlight/internal/config"
	"github.com/steveyegge/greenlight/internal/dashboard"
)

var serveAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only dashboard API",
	Long: `Exposes backlog, queue, session, and event data as JSON over HTTP
for dashboards and scripts. The server is read-only and binds to
localhost by default.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()

		store, mgr, cleanup := openQueue()
		defer cleanup()

		addr := serveAddrFlag
		if addr == "" {
			addr = config.GetString("dashboard.addr")
		}

		srv := dashboard.NewServer(dashboard.NewQueries(store, mgr))
		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		fmt.Printf("dashboard listening on http://%s (ctrl-c to stop)\n", addr)
		select {
		case err := <-errCh:
			fatalErr(err)
		case <-ctx.Done():
		}

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			fatalErr(err)
		}
		fmt.Println("dashboard stopped")
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "Listen address (default from dashboard.addr config, 127.0.0.1:4680)")
	rootCmd.AddCommand(serveCmd)
}
