package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xela07ax/delegation-governance/internal/infra"
)

var rootCmd = &cobra.Command{
	Use:   "govctl",
	Short: "Delegation governance CLI",
	Long: `govctl analyzes delegation sets offline and talks to the governor's infrastructure.
- analyze/report/conflicts: run the alert, conflict and health engines over a YAML set
- watch: follow alert and escalation notifications published to Redis
- token: issue an operator token for the governance API
- assessments: read the local assessment journal (sqlite)`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOVCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "log engine internals to stderr")
	rootCmd.PersistentFlags().String("now", "", "evaluation time, RFC3339 (default: current time)")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("now", rootCmd.PersistentFlags().Lookup("now"))
}

func registerCommands() {
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(assessmentsCmd())
}

func cliLogger() *zap.Logger {
	if !viper.GetBool("verbose") {
		return zap.NewNop()
	}
	logger, err := infra.NewLogger(infra.LoggerConfig{Level: "debug", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// cliClock — фиксированное время из --now, иначе системное.
func cliClock() (infra.Clock, error) {
	raw := viper.GetString("now")
	if raw == "" {
		return infra.SystemClock{}, nil
	}
	now, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --now: %w", err)
	}
	return infra.ClockFunc(func() time.Time { return now }), nil
}

// ruleThresholds — пороги из config.yaml/ENV governor-а, если они есть.
func ruleThresholds() infra.RuleThresholds {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return infra.DefaultRuleThresholds()
	}
	return cfg.Governance.Rules
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
