package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zalahq/leadscout/internal/provider/directory"
	"github.com/zalahq/leadscout/internal/provider/places"
	"github.com/zalahq/leadscout/internal/provider/websearch"
	"github.com/zalahq/leadscout/internal/quota"
)

var quotaOutput string

// quotaRow is one line of `quota status`.
type quotaRow struct {
	Provider string `json:"provider" yaml:"provider"`
	Period   string `json:"period" yaml:"period"`
	Count    int    `json:"count" yaml:"count"`
	Limit    int    `json:"limit" yaml:"limit"`
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset monthly provider call counters",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this month's call counts per provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("quota"); err != nil {
			return err
		}
		gov, rdb, err := initQuota()
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close() //nolint:errcheck
		}

		rows, err := quotaRows(cmd.Context(), gov, quotaLimits())
		if err != nil {
			return err
		}
		return formatQuotaRows(os.Stdout, rows, quotaOutput)
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <provider>",
	Short: "Clear the call counter of one provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("quota"); err != nil {
			return err
		}
		gov, rdb, err := initQuota()
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close() //nolint:errcheck
		}

		if err := gov.Reset(cmd.Context(), args[0]); err != nil {
			return err
		}
		zap.L().Info("quota counter reset", zap.String("provider", args[0]))
		return nil
	},
}

func init() {
	quotaStatusCmd.Flags().StringVarP(&quotaOutput, "output", "o", "table", "output format: table, json or yaml")
	quotaCmd.AddCommand(quotaStatusCmd, quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}

// quotaLimits maps quota keys to their configured monthly limits.
func quotaLimits() map[string]int {
	return map[string]int{
		directory.QuotaKey:          cfg.RapidAPI.MonthlyLimit,
		places.SearchQuotaKey:       cfg.Places.MonthlyLimit,
		places.DetailsQuotaKey:      cfg.Places.DetailsMonthlyLimit,
		websearch.AnthropicQuotaKey: cfg.Anthropic.MonthlyLimit,
		websearch.BraveQuotaKey:     cfg.Brave.MonthlyLimit,
	}
}

// quotaRows merges stored counters with the configured limits so every
// known provider is listed, used or not.
func quotaRows(ctx context.Context, gov *quota.Governor, limits map[string]int) ([]quotaRow, error) {
	usage, err := gov.Usage(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(usage))

	rows := make([]quotaRow, 0, len(usage)+len(limits))
	for _, u := range usage {
		seen[u.Provider] = true
		rows = append(rows, quotaRow{Provider: u.Provider, Period: u.Period, Count: u.Count, Limit: limits[u.Provider]})
	}
	period := quota.Period(time.Now())
	for p, limit := range limits {
		if !seen[p] {
			rows = append(rows, quotaRow{Provider: p, Period: period, Limit: limit})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Provider < rows[j].Provider })
	return rows, nil
}

// formatQuotaRows writes rows to out as a table, JSON or YAML.
func formatQuotaRows(out io.Writer, rows []quotaRow, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(rows), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROVIDER\tPERIOD\tCOUNT\tLIMIT\tREMAINING")
		_, _ = fmt.Fprintln(w, "--------\t------\t-----\t-----\t---------")
		for _, r := range rows {
			remaining := "-"
			if r.Limit > 0 {
				remaining = fmt.Sprintf("%d", max(r.Limit-r.Count, 0))
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Provider, r.Period, r.Count, r.Limit, remaining)
		}
		return w.Flush()
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}
