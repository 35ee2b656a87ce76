package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/learning-platform-auth/internal/tools/common"
	"github.com/sandeepkv93/learning-platform-auth/internal/tools/loadgen"
	"github.com/sandeepkv93/learning-platform-auth/internal/tools/smoke"
	"github.com/sandeepkv93/learning-platform-auth/internal/tools/ui"
)

type rootOptions struct {
	envFile string
	ci      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operator tooling for the learning platform auth service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(opts.envFile)
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment is read")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	root.AddCommand(
		newSessionsCommand(opts),
		newUsersCommand(opts),
		newEventsCommand(opts),
		newLoadgenCommand(opts),
		smoke.NewCommand(),
	)
	return root
}

// execute runs fn behind the spinner, or plainly with a JSON result line in
// CI mode. Failures exit with status 4.
func execute(opts *rootOptions, title string, fn ui.Task) error {
	var err error
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		var details []string
		details, err = fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
	} else {
		_, err = ui.Run(title, fn)
	}
	if err != nil {
		os.Exit(4)
	}
	return nil
}

func newLoadgenCommand(opts *rootOptions) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate paced traffic against a running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "loadgen", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("total=%d failures=%d", res.TotalRequests, res.Failures)}
				for class, n := range res.ByStatusClass {
					details = append(details, fmt.Sprintf("%s=%d", class, n))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: health, auth or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to send traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "seed for the request mix")
	return cmd
}
