package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reconcilerd/reconcilerd/internal/api"
	"github.com/reconcilerd/reconcilerd/internal/duplicates"
	"github.com/reconcilerd/reconcilerd/internal/session"
	"github.com/reconcilerd/reconcilerd/internal/store"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// serveCmd runs the HTTP API server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	st, err := store.NewSQLiteStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	sessions := session.NewService(st)
	detector := duplicates.NewDetector(st, st)

	server := api.NewServer(api.Config{Port: viper.GetInt("port")}, sessions, detector)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
