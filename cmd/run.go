// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/api/schemas"
	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/engine"
	"github.com/xkilldash9x/courier-cli/internal/observability"
	"github.com/xkilldash9x/courier-cli/internal/results"
	"github.com/xkilldash9x/courier-cli/internal/sessionstore"
	"github.com/xkilldash9x/courier-cli/internal/solver"
	"github.com/xkilldash9x/courier-cli/internal/targets"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var run config.RunConfig

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deliver the message to every configured target.",
		Long: `Run opens a browser session per identity, authenticates (reusing stored
session artifacts when possible), and works the target list in order:
navigation, challenge handling, composing, sending, and confirmation.
Results are recorded to the configured sink as they are produced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg.Run = run
			return runDelivery(cmd.Context(), opts.cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVarP(&run.Targets, "target", "t", nil, "delivery destination URL (repeatable)")
	cmd.Flags().StringVar(&run.TargetsFile, "targets-file", "", "destinations file: one URL per line, a JSON array, or a sitemap")
	cmd.Flags().StringVarP(&run.Message, "message", "m", "", "message body template ({{.TargetID}} and {{.Destination}} substitute per target)")
	cmd.Flags().StringVar(&run.MessageFile, "message-file", "", "file containing the message body template")
	cmd.Flags().StringVar(&run.IdentitiesFile, "identities-file", "", "identities file for a multi-account campaign")
	cmd.Flags().BoolVar(&run.DryRun, "dry-run", false, "resolve targets and identities, print the plan, open no browser")
	return cmd
}

func runDelivery(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := observability.GetLogger().Named("run")

	targetList, err := resolveTargets(cfg.Run)
	if err != nil {
		return err
	}
	message, err := resolveMessage(cfg.Run)
	if err != nil {
		return err
	}
	identities, err := resolveIdentities(cfg)
	if err != nil {
		return err
	}

	if cfg.Run.DryRun {
		printPlan(out, cfg, identities, targetList)
		return nil
	}

	store, err := sessionstore.New(ctx, cfg.Session, log)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	sink, err := results.New(ctx, cfg.Results, log)
	if err != nil {
		return fmt.Errorf("opening results sink: %w", err)
	}
	defer sink.Close()

	transcriber, delegate, err := buildSolvers(ctx, cfg, log)
	if err != nil {
		return err
	}

	// One browser per identity. Tabs of a shared browser would share a
	// cookie jar across accounts.
	build := func(identity schemas.Identity) (*engine.Engine, func(), error) {
		manager := browser.NewManager(cfg, log)
		eng, err := engine.New(cfg, engine.Deps{
			Sessions:    engine.Sessions{Manager: manager},
			Store:       store,
			Sink:        sink,
			Transcriber: transcriber,
			Delegate:    delegate,
			Logger:      log,
		})
		if err != nil {
			return nil, nil, err
		}
		release := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if err := manager.Shutdown(shutdownCtx); err != nil {
				log.Warn("browser shutdown", zap.Error(err))
			}
		}
		return eng, release, nil
	}

	summaries, err := engine.RunAll(ctx, identities, targetList, message, build)
	for _, summary := range summaries {
		if summary.RunID == "" {
			// This identity failed before producing a run; the joined error
			// carries the cause.
			continue
		}
		printSummary(out, summary)
	}
	return err
}

func resolveTargets(run config.RunConfig) ([]schemas.Target, error) {
	var lists [][]schemas.Target

	if len(run.Targets) > 0 {
		fromArgs, err := targets.FromArgs(run.Targets)
		if err != nil {
			return nil, err
		}
		lists = append(lists, fromArgs)
	}
	if run.TargetsFile != "" {
		fromFile, err := targets.FromFile(run.TargetsFile)
		if err != nil {
			return nil, err
		}
		lists = append(lists, fromFile)
	}
	if len(lists) == 0 {
		return nil, errors.New("no targets: pass --target or --targets-file")
	}
	return targets.Merge(lists...)
}

func resolveMessage(run config.RunConfig) (string, error) {
	switch {
	case run.Message != "" && run.MessageFile != "":
		return "", errors.New("use --message or --message-file, not both")
	case run.Message != "":
		return run.Message, nil
	case run.MessageFile != "":
		data, err := os.ReadFile(run.MessageFile)
		if err != nil {
			return "", fmt.Errorf("reading message file: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("message file %s is empty", run.MessageFile)
		}
		return string(data), nil
	default:
		return "", errors.New("no message: pass --message or --message-file")
	}
}

// resolveIdentities prefers the campaign file; otherwise the single
// configured identity carries the run. Secrets are checked at login, not
// here, so a dry run never needs one.
func resolveIdentities(cfg *config.Config) ([]schemas.Identity, error) {
	if cfg.Run.IdentitiesFile != "" {
		return targets.LoadIdentities(cfg.Run.IdentitiesFile)
	}
	if cfg.Identity.Principal == "" {
		return nil, errors.New("no identity: set identity.principal or pass --identities-file")
	}
	return []schemas.Identity{{Principal: cfg.Identity.Principal, Secret: cfg.Identity.Secret}}, nil
}

// buildSolvers constructs the enabled challenge capabilities. Disabled
// strategies stay nil, which the resolver treats as absent.
func buildSolvers(ctx context.Context, cfg *config.Config, log *zap.Logger) (solver.Transcriber, solver.Delegate, error) {
	var (
		transcriber solver.Transcriber
		delegate    solver.Delegate
	)
	if cfg.Challenge.Audio.Enabled {
		t, err := solver.NewTranscriber(ctx, cfg.Challenge.Audio, log)
		if err != nil {
			return nil, nil, fmt.Errorf("building audio transcriber: %w", err)
		}
		transcriber = t
	}
	if cfg.Challenge.Delegated.Enabled {
		d, err := solver.NewDelegatedClient(cfg.Challenge.Delegated, log)
		if err != nil {
			return nil, nil, fmt.Errorf("building delegated solver: %w", err)
		}
		delegate = d
	}
	return transcriber, delegate, nil
}

func printPlan(out io.Writer, cfg *config.Config, identities []schemas.Identity, targetList []schemas.Target) {
	fmt.Fprintf(out, "dry run: %d target(s), %d identity(ies), results sink %q\n",
		len(targetList), len(identities), cfg.Results.Sink)
	for _, identity := range identities {
		fmt.Fprintf(out, "  identity  %s\n", identity.Principal)
	}
	for _, target := range targetList {
		fmt.Fprintf(out, "  target    %-14s %s\n", target.ID, target.Destination)
	}
	fmt.Fprintf(out, "pacing %s..%s between targets, %.2g/min cap\n",
		cfg.Delivery.PaceMin, cfg.Delivery.PaceMax, cfg.Delivery.PerMinute)
}

func printSummary(out io.Writer, s schemas.RunSummary) {
	fmt.Fprintf(out, "run %s  principal=%s  delivered %d/%d  failed %d  reused_session=%t  took %s\n",
		s.RunID, s.Principal, s.Succeeded, s.Total, s.Failed, s.Reused, s.Duration.Round(time.Millisecond))
}
