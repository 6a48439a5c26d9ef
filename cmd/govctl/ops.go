package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xela07ax/delegation-governance/internal/domain"
	"github.com/xela07ax/delegation-governance/internal/infra/auth"
	"github.com/xela07ax/delegation-governance/internal/remediation"
	"github.com/xela07ax/delegation-governance/internal/repository/sqlite"
)

func watchCmd() *cobra.Command {
	var addr, password string
	var db int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow alert and escalation notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
			defer rdb.Close()

			logger := cliLogger()
			defer logger.Sync()
			asJSON := viper.GetBool("json")
			err := remediation.NewRedisNotifier(rdb, logger).Listen(ctx, func(n remediation.Notification) {
				if asJSON {
					_ = printJSON(n)
					return
				}
				fmt.Printf("%s  %-10s %-8s %s  %s\n",
					n.Timestamp.Format(time.RFC3339), n.Kind, n.Severity, strings.Join(n.DelegationIDs, ","), n.Message)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "redis-addr", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&password, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&db, "redis-db", 0, "redis database")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		keyPath string
		actor   domain.Actor
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an RS256 operator token for the governance API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor.ID == "" {
				return fmt.Errorf("--actor-id is required")
			}
			pem, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read private key: %w", err)
			}
			key, err := auth.ParseRSAPrivateKey(pem)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(key, actor, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "private.pem", "PEM private key")
	cmd.Flags().StringVar(&actor.ID, "actor-id", "", "actor identifier")
	cmd.Flags().StringVar(&actor.Name, "name", "", "actor display name")
	cmd.Flags().StringVar(&actor.Role, "role", "operator", "actor role (bureau_chief, director, director_general, operator)")
	cmd.Flags().StringArrayVar(&scopes, "scope", []string{auth.ScopeRead}, "granted scope (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}

func assessmentsCmd() *cobra.Command {
	var path string
	var limit int
	cmd := &cobra.Command{
		Use:   "assessments",
		Short: "Show the latest assessments from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("journal %s: %w", path, err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, err := sqlite.Open(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.Assessments(ctx, limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "Kind", "Delegation", "Score", "Status", "Alerts", "Conflicts", "Partial"})
			for _, a := range items {
				tw.AppendRow(table.Row{a.Timestamp.Format(time.RFC3339), a.Kind, a.DelegationID,
					fmt.Sprintf("%.1f", a.HealthScore), a.Status, a.Alerts, a.Conflicts, a.Partial})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "db", "governance.db", "sqlite journal path")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}
