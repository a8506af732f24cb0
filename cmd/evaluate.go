package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// newEvaluateCommand asks admission about one action against the
// configured storage. A deny exits non-zero.
func newEvaluateCommand(load func() (*config.Config, error)) *cobra.Command {
	var (
		req    admission.Request
		action string
		commit bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate admission for a single action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}

			services, err := bootstrap.BuildServices(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = services.Close() }()

			req.ActionType = domain.ActionType(action)
			req.DryRun = !commit
			d, err := services.Admission.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err = enc.Encode(d); err != nil {
				return fmt.Errorf("write decision: %w", err)
			}
			if d.Kind == domain.DecisionDeny {
				return &domain.AdmissionDenied{Reason: d.Reason}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.AccountID, "account", "", "account id")
	cmd.Flags().StringVar(&action, "action", string(domain.ActionProfileView), "action type")
	cmd.Flags().StringVar(&req.SourceKey, "source", "", "source key (default source when empty)")
	cmd.Flags().StringVar(&req.TargetRef, "target", "", "target reference for touch and cooldown checks")
	cmd.Flags().BoolVar(&commit, "commit", false, "reserve quota instead of a dry run")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
