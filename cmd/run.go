package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"loadcast/internal/banner"
	"loadcast/internal/breaker"
	"loadcast/internal/broadcast"
	"loadcast/internal/cli"
	"loadcast/internal/engine"
	"loadcast/internal/export"
	"loadcast/internal/plan"
	"loadcast/internal/retry"
	"loadcast/internal/sched"
)

var (
	urls        []string
	targetsFile string
	method      string
	users       int
	duration    int
	rampUp      int
	iterations  int
	timeout     int
	headers     []string
	insecure    bool
	outPrefix   string
	eventsDir   string
	strategy    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test headless and print the results",
	Example: `  loadcast run --url http://localhost:8080/fast --users 25 --duration 30
  loadcast run --targets targets.json --users 50 --ramp-up 10 --out report`,
	SilenceUsage: true,
	RunE:         runHeadless,
}

func init() {
	runCmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Target URL (repeatable)")
	runCmd.Flags().StringVarP(&targetsFile, "targets", "t", "", "JSON file holding the resolved target list")
	runCmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method for --url targets")
	runCmd.Flags().IntVarP(&users, "users", "U", 10, "Concurrent virtual users")
	runCmd.Flags().IntVarP(&duration, "duration", "d", 30, "Duration in seconds")
	runCmd.Flags().IntVar(&rampUp, "ramp-up", 0, "Ramp up duration in seconds")
	runCmd.Flags().IntVar(&iterations, "iterations", 1, "Queue repetitions per user per target")
	runCmd.Flags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")
	runCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "HTTP header (e.g. \"Key: Value\")")
	runCmd.Flags().BoolVarP(&insecure, "insecure", "k", false, "Skip TLS certificate verification")
	runCmd.Flags().StringVarP(&outPrefix, "out", "o", "", "Output filename prefix for CSV/JSON reports")
	runCmd.Flags().StringVar(&eventsDir, "events", "", "Keep raw event streams under this directory")
	runCmd.Flags().StringVar(&strategy, "strategy", "loop", "Dispatch strategy: loop or pool")
}

func runHeadless(cmd *cobra.Command, args []string) error {
	if len(urls) == 0 && targetsFile == "" {
		return fmt.Errorf("at least one --url or a --targets file is required")
	}

	p, err := buildPlan()
	if err != nil {
		return err
	}
	strat, err := sched.ParseStrategy(strategy)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Reports need the raw response stream; capture it in a scratch
	// directory when the caller didn't ask to keep events.
	eventRoot := eventsDir
	cleanup := func() {}
	if eventRoot == "" && outPrefix != "" {
		tmp, err := os.MkdirTemp("", "loadcast-events-")
		if err != nil {
			return fmt.Errorf("create scratch event dir: %w", err)
		}
		eventRoot = tmp
		cleanup = func() { os.RemoveAll(tmp) }
	}
	defer cleanup()

	eng := engine.New(engine.Config{
		Logger:            logger.Named("engine"),
		EventRoot:         eventRoot,
		BreakerConfig:     breaker.DefaultConfig(),
		RetryPolicy:       retry.DefaultPolicy(),
		Strategy:          strat,
		BroadcastInterval: broadcast.DefaultInterval,
	})
	defer eng.Close()

	fmt.Println(banner.GetString())
	cli.PrintHeader(os.Stdout, p)

	total := time.Duration(p.RampUpSeconds+p.DurationSeconds) * time.Second
	eng.Broadcaster().Subscribe(cli.NewRenderer(os.Stdout, total))

	run, err := eng.Start(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-run.Done():
	case <-ctx.Done():
		fmt.Print("\n\n🛑 Stopping, draining in-flight requests...\n")
		eng.Stop()
		<-run.Done()
	}

	snap := eng.Snapshot()
	cli.PrintSummary(os.Stdout, snap)

	if outPrefix != "" {
		fmt.Println("\n💾 Generating reports...")
		records, err := export.LoadResponses(filepath.Join(eventRoot, run.ID))
		if err != nil {
			return fmt.Errorf("load response events: %w", err)
		}
		if err := export.Save(outPrefix, snap, records); err != nil {
			return err
		}
		fmt.Printf("✅ Wrote %s.csv, %s_summary.json, %s_timeline.json\n", outPrefix, outPrefix, outPrefix)
	}
	return nil
}

func buildPlan() (*plan.TestPlan, error) {
	p := &plan.TestPlan{
		ConcurrentUsers: users,
		DurationSeconds: duration,
		RampUpSeconds:   rampUp,
		Iterations:      iterations,
		RequestTimeout:  time.Duration(timeout) * time.Second,
		Insecure:        insecure,
	}

	if targetsFile != "" {
		targets, err := loadTargets(targetsFile)
		if err != nil {
			return nil, err
		}
		p.Targets = targets
	}
	for _, u := range urls {
		p.Targets = append(p.Targets, plan.Target{Method: strings.ToUpper(method), URITemplate: u})
	}

	if len(headers) > 0 {
		p.Headers = make(http.Header)
		for _, h := range headers {
			parts := strings.SplitN(h, ":", 2)
			if len(parts) == 2 {
				p.Headers.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
		}
	}
	return p, nil
}

func loadTargets(path string) ([]plan.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var targets []plan.Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	return targets, nil
}
