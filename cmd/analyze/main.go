package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/timmy/bloodcell/internal/app"
	"github.com/timmy/bloodcell/internal/config"
	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/logger"
	"github.com/timmy/bloodcell/internal/service"
)

var (
	cfgFile   string
	explain   bool
	questions []string
	timeout   time.Duration
	ephemeral bool
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze a blood smear image",
	Long: `Runs a blood smear image through preprocessing, cell classification and
disease inference, then prints the result as JSON.

Example:
  analyze smear.png
  analyze smear.png --explain --question "Should I worry about this?"`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.Flags().BoolVar(&explain, "explain", false, "generate a plain-language explanation")
	rootCmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "follow-up question (repeatable, implies --explain)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall time limit")
	rootCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "use an in-memory archive instead of the configured database")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "hide the progress bar")
}

func main() {
	logger.SetDefaultLogger(logger.New(logger.Options{
		Level:   "warn",
		Format:  "text",
		Service: "bloodcell-analyze",
		Output:  os.Stderr,
	}))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// report is the JSON document printed on success.
type report struct {
	domain.AnalysisResult
	Explanation string            `json:"explanation,omitempty"`
	FollowUps   []domain.Exchange `json:"follow_ups,omitempty"`
}

func run(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if ephemeral {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = ":memory:"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()
	svc := application.Service
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(closeCtx)
	}()

	id, err := svc.Submit(ctx, data)
	if err != nil {
		return err
	}

	var progressOut io.Writer = os.Stderr
	if quiet {
		progressOut = io.Discard
	}
	if err := waitForResult(ctx, svc, id, progressOut); err != nil {
		return err
	}

	result, err := svc.GetResult(ctx, id)
	if err != nil {
		return err
	}
	out := report{AnalysisResult: result}

	if explain || len(questions) > 0 {
		if out.Explanation, err = svc.Explain(ctx, id); err != nil {
			return err
		}
		for _, q := range questions {
			if _, err := svc.FollowUp(ctx, id, q); err != nil {
				return err
			}
		}
		if len(questions) > 0 {
			if out.FollowUps, err = svc.FollowUps(ctx, id); err != nil {
				return err
			}
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// waitForResult polls the job until it is terminal, mirroring its progress on a bar.
func waitForResult(ctx context.Context, svc *service.AnalysisService, id string, w io.Writer) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(string(domain.StageQueued)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		p, err := svc.GetProgress(ctx, id)
		if err != nil {
			return err
		}
		bar.Describe(string(p.Stage))
		_ = bar.Set(p.Progress)

		switch p.Stage {
		case domain.StageCompleted:
			_ = bar.Finish()
			return nil
		case domain.StageError:
			_ = bar.Exit()
			if p.Error != nil {
				return fmt.Errorf("analysis failed at %d%%: %s (%s)", p.Progress, p.Error.Message, p.Error.Code)
			}
			return fmt.Errorf("analysis failed at %d%%", p.Progress)
		}

		select {
		case <-ctx.Done():
			_ = bar.Exit()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
