package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

func newUsageCommand(load func() (*config.Config, error)) *cobra.Command {
	var accountID, sourceKey string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show an account's quota consumption",
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

			u, err := services.Admission.Usage(cmd.Context(), accountID, sourceKey)
			if err != nil {
				return err
			}
			renderUsage(cmd.OutOrStdout(), u)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&sourceKey, "source", "", "source key (default source when empty)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func renderUsage(w io.Writer, u admission.Usage) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s / %s", u.AccountID, u.SourceKey))

	t.AppendHeader(table.Row{"Window", "Used", "Limit"})
	t.AppendRow(table.Row{"day", u.Day, u.DayLimit})
	t.AppendRow(table.Row{"hour", u.Hour, u.HourLimit})
	t.AppendRow(table.Row{"minute", u.Minute, u.MinuteLimit})
	t.AppendRow(table.Row{"failures (day)", u.Failures, u.FailureLimit})
	t.AppendSeparator()

	buckets := make([]string, 0, len(u.Types))
	for b := range u.Types {
		buckets = append(buckets, string(b))
	}
	sort.Strings(buckets)
	for _, b := range buckets {
		tu := u.Types[admission.Bucket(b)]
		t.AppendRow(table.Row{b + " (day)", tu.Count, fmt.Sprintf("%d of %d", tu.EffectiveCap, tu.Cap)})
	}

	t.AppendFooter(table.Row{"in flight", u.InFlight, u.Concurrency})
	t.Render()
}
