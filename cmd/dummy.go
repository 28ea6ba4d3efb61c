package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loadcast/internal/dummy"
)

var (
	dummyPort  int
	dummyToken string
)

var dummyCmd = &cobra.Command{
	Use:          "dummy",
	Short:        "Run the sample target server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		srv := dummy.New(dummy.Config{
			Addr:   fmt.Sprintf(":%d", dummyPort),
			Logger: logger.Named("dummy"),
			Token:  dummyToken,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("👻 Dummy server running on http://localhost:%d\n", dummyPort)
		fmt.Println("   Endpoints: /fast, /medium, /slow, /spike, /error, /flaky, /protected, /health")
		return srv.Run(ctx)
	},
}

func init() {
	dummyCmd.Flags().IntVarP(&dummyPort, "port", "p", 8080, "Port to listen on")
	dummyCmd.Flags().StringVar(&dummyToken, "token", "", "Bearer token required by /protected (default accepts any)")
}
