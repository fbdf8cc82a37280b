package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adioame/PhotoMind-sub002/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the PhotoMind web server. The API exposes detection, matching,
person management and the regeneration job under /api/v1, plus an SSE
event stream for progress updates.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if added, err := a.syncLibrary(ctx); err != nil {
		return err
	} else if added > 0 {
		fmt.Printf("Library sync: %d photos registered\n", added)
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	srv := web.NewServer(web.Deps{
		Store:    a.store,
		Registry: a.registry,
		Matcher:  a.matcher,
		Detector: a.detector,
		Regen:    a.manager,
		Bus:      a.bus,
	}, host, port)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Let a running regeneration job park cleanly before the store closes.
	if err := a.manager.Pause(); err == nil {
		a.manager.Wait()
	}
	return nil
}
