package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"loadcast/internal/banner"
	"loadcast/internal/breaker"
	"loadcast/internal/engine"
	"loadcast/internal/retry"
	"loadcast/internal/server"
	"loadcast/internal/storage"
	"loadcast/internal/telemetry"
)

var (
	serveAddr   string
	serveDB     string
	serveEvents string
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Run the dashboard server (REST + WebSocket + /metrics)",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8089", "Listen address")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "History database path (default $HOME/.loadcast/history.db)")
	serveCmd.Flags().StringVar(&serveEvents, "events", "", "Event log root (default next to the history database)")
	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("db", serveCmd.Flags().Lookup("db"))
	viper.BindPFlag("events", serveCmd.Flags().Lookup("events"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dbPath := viper.GetString("db")
	if dbPath == "" {
		dbPath, err = storage.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve history path: %w", err)
		}
	}
	eventRoot := viper.GetString("events")
	if eventRoot == "" {
		eventRoot = filepath.Join(filepath.Dir(dbPath), "events")
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	reg := telemetry.NewRegistry()
	eng := engine.New(engine.Config{
		Logger:        logger.Named("engine"),
		Telemetry:     telemetry.New(reg),
		Store:         store,
		EventRoot:     eventRoot,
		BreakerConfig: breaker.DefaultConfig(),
		RetryPolicy:   retry.DefaultPolicy(),
	})
	defer eng.Close()

	srv := server.New(server.Config{
		Addr:     viper.GetString("addr"),
		Engine:   eng,
		Logger:   logger.Named("server"),
		Registry: reg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(banner.GetString())
	logger.Info("dashboard server starting",
		zap.String("addr", viper.GetString("addr")),
		zap.String("db", dbPath),
		zap.String("events", eventRoot))
	return srv.Run(ctx)
}
