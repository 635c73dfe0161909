// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/auth"
	"github.com/xkilldash9x/xsrenew-cli/internal/browser"
	"github.com/xkilldash9x/xsrenew-cli/internal/config"
	"github.com/xkilldash9x/xsrenew-cli/internal/mailbox"
	"github.com/xkilldash9x/xsrenew-cli/internal/observability"
	"github.com/xkilldash9x/xsrenew-cli/internal/orchestrator"
	"github.com/xkilldash9x/xsrenew-cli/internal/renewal"
	"github.com/xkilldash9x/xsrenew-cli/internal/report"
	"github.com/xkilldash9x/xsrenew-cli/internal/verify"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one authentication-and-renewal pass against the panel",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so CLI flags override env/file.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("report.path", cmd.Flags().Lookup("output"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// 1. Configuration finalization. Missing credentials or mailbox
			// identifiers fail here, before any remote interaction.
			cfg, err := config.NewFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			runID := uuid.New().String()
			logger.Info("Starting renewal run",
				zap.String("runID", runID),
				zap.String("account", cfg.Account.Identifier),
				zap.Bool("headless", cfg.Browser.Headless),
			)

			// 2. Browser process and the run's single session.
			manager, err := browser.NewManager(ctx, logger, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize browser: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := manager.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Error during browser shutdown", zap.Error(err))
				}
			}()

			session, err := manager.NewSession()
			if err != nil {
				return fmt.Errorf("failed to open browser session: %w", err)
			}

			// 3. Remaining components.
			reader := mailbox.NewClient(cfg.Mailbox, logger)
			retriever := verify.NewRetriever(reader, verify.Config{
				SettleDelay:  cfg.Mailbox.SettleDelay,
				PollInterval: cfg.Mailbox.PollInterval,
			}, logger)
			stateMachine := auth.New(session, cfg, logger)
			engine := renewal.NewEngine(session, cfg, logger)
			emitter := report.NewEmitter(cfg.Report.Path, logger)

			creds := schemas.Credentials{
				Identifier: cfg.Account.Identifier,
				Secret:     cfg.Account.Secret,
			}

			orch, err := orchestrator.New(creds, stateMachine, retriever, engine, emitter, session, session.Close, logger)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}

			// 4. Run. The orchestrator has already emitted the report and
			// released the session by the time this returns.
			rep, err := orch.Run(ctx)
			if err != nil {
				logger.Error("Renewal run failed", zap.Error(err), zap.String("runID", runID))
				return err
			}

			logger.Info("Renewal run finished",
				zap.String("runID", runID),
				zap.String("outcome", string(rep.Outcome)),
				zap.String("old_expiry", rep.OldExpiry.Value),
				zap.String("new_expiry", rep.NewExpiry.Value),
			)
			return nil
		},
	}

	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().StringP("output", "o", "", "Path of the run report file. (Overrides config/env)")

	return runCmd
}
