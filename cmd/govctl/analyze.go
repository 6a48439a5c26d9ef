package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

func withWorkspace(cmd *cobra.Command, file string, fn func(ctx context.Context, w *workspace) error) error {
	if file == "" {
		return fmt.Errorf("--file is required")
	}
	set, err := loadSet(file)
	if err != nil {
		return err
	}
	clock, err := cliClock()
	if err != nil {
		return err
	}
	logger := cliLogger()
	defer logger.Sync()

	ctx := cmd.Context()
	w, err := newWorkspace(ctx, set, ruleThresholds(), clock, logger)
	if err != nil {
		return err
	}
	return fn(ctx, w)
}

func analyzeCmd() *cobra.Command {
	var file, only string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score every delegation in a YAML set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, file, func(ctx context.Context, w *workspace) error {
				analyses, err := w.analyzeAll(ctx)
				if err != nil {
					return err
				}
				if only != "" {
					analyses = filterAnalyses(analyses, only)
					if len(analyses) == 0 {
						return fmt.Errorf("delegation %s: %w", only, domain.ErrNotFound)
					}
				}
				if viper.GetBool("json") {
					return printJSON(analyses)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Score", "Status", "Alerts", "Conflicts", "Backup", "Workflow", "Next action"})
				for _, a := range analyses {
					next := ""
					if len(a.Recommendations) > 0 {
						next = fmt.Sprintf("[%s] %s", a.Recommendations[0].Priority, a.Recommendations[0].Label)
					}
					tw.AppendRow(table.Row{a.DelegationID, a.HealthScore, a.Status, len(a.Alerts), len(a.Conflicts), a.HasBackup, a.WorkflowID, next})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML delegation set")
	cmd.Flags().StringVar(&only, "id", "", "show a single delegation")
	return cmd
}

func filterAnalyses(as []domain.HealthAnalysis, id string) []domain.HealthAnalysis {
	for _, a := range as {
		if a.DelegationID == id {
			return []domain.HealthAnalysis{a}
		}
	}
	return nil
}

func reportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "System health report for a YAML set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, file, func(ctx context.Context, w *workspace) error {
				report, err := w.gov.GenerateSystemHealthReport(ctx, w.delegations)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				summary := table.NewWriter()
				summary.SetOutputMirror(os.Stdout)
				summary.SetTitle("System health")
				summary.AppendRows([]table.Row{
					{"Delegations", report.TotalDelegations},
					{"Active", report.ActiveDelegations},
					{"Analyzed", report.Analyzed},
					{"Average score", fmt.Sprintf("%.1f", report.AverageScore)},
					{"Healthy / warning / critical", fmt.Sprintf("%d / %d / %d",
						report.StatusDistribution[domain.HealthHealthy],
						report.StatusDistribution[domain.HealthWarning],
						report.StatusDistribution[domain.HealthCritical])},
					{"Without backup", strings.Join(report.WithoutBackup, ", ")},
					{"Expiring soon", strings.Join(report.ExpiringSoon, ", ")},
				})
				summary.Render()

				if len(report.LowestScores) > 0 {
					lowest := table.NewWriter()
					lowest.SetOutputMirror(os.Stdout)
					lowest.SetTitle("Lowest scores")
					lowest.AppendHeader(table.Row{"ID", "Agent", "Bureau", "Score", "Status"})
					for _, s := range report.LowestScores {
						lowest.AppendRow(table.Row{s.DelegationID, s.AgentID, s.Bureau, s.HealthScore, s.Status})
					}
					lowest.Render()
				}
				if len(report.Recommendations) > 0 {
					recs := table.NewWriter()
					recs.SetOutputMirror(os.Stdout)
					recs.SetTitle("Recommendations")
					recs.AppendHeader(table.Row{"Priority", "Source", "Delegation", "Action"})
					for _, r := range report.Recommendations {
						recs.AppendRow(table.Row{r.Priority, r.Source, r.DelegationID, r.Label})
					}
					recs.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML delegation set")
	return cmd
}

func conflictsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect conflicts in a YAML set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, file, func(ctx context.Context, w *workspace) error {
				conflicts := w.detector.Detect(w.delegations)
				if viper.GetBool("json") {
					return printJSON(conflicts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Severity", "Delegations", "Title", "Resolutions"})
				for _, c := range conflicts {
					ids := make([]string, 0, len(c.Resolutions))
					for _, r := range c.Resolutions {
						ids = append(ids, r.ID)
					}
					tw.AppendRow(table.Row{c.ID, c.Type, c.Severity, strings.Join(c.DelegationIDs, ","), c.Title, strings.Join(ids, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML delegation set")
	return cmd
}
