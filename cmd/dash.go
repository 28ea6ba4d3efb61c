package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loadcast/internal/dash"
	"loadcast/internal/plan"
)

var dashServer string

var dashCmd = &cobra.Command{
	Use:          "dash",
	Short:        "Open the terminal dashboard against a serve instance",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dash.Dial(viper.GetString("server"))
		if err != nil {
			return err
		}

		defaults := &plan.TestPlan{
			ConcurrentUsers: 10,
			DurationSeconds: 30,
			RequestTimeout:  10 * time.Second,
			Targets: []plan.Target{
				{Method: "GET", URITemplate: "http://localhost:8080/fast"},
			},
		}
		return dash.Run(client, defaults)
	},
}

func init() {
	dashCmd.Flags().StringVar(&dashServer, "server", "http://localhost:8089", "Base URL of the serve instance")
	viper.BindPFlag("server", dashCmd.Flags().Lookup("server"))
}
