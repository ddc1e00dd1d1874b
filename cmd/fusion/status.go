package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/config"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/engine"
)

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a summary of a running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				addr = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
			}

			st, err := fetchStatus(cmd.Context(), addr)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "base URL of the running service (blank derives it from config)")
	return cmd
}

func fetchStatus(ctx context.Context, addr string) (*engine.SystemStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the service running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var st engine.SystemStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func printStatus(st *engine.SystemStatus) {
	uptime := time.Duration(st.UptimeSeconds * float64(time.Second)).Truncate(time.Second)

	fmt.Printf("uptime            %s\n", uptime)
	fmt.Printf("entry evaluations %d\n", st.EntryEvaluations)
	fmt.Printf("exit evaluations  %d\n", st.ExitEvaluations)
	fmt.Printf("outcomes recorded %d\n", st.OutcomesRecorded)
	fmt.Printf("win probability   %.1f%%\n", st.WinProbability*100)
	fmt.Printf("recent sharpe     %.2f\n", st.RecentSharpe)

	if len(st.Actions) > 0 {
		actions := make([]string, 0, len(st.Actions))
		for a := range st.Actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		fmt.Println("\nactions")
		for _, a := range actions {
			fmt.Printf("  %-6s %d\n", a, st.Actions[a])
		}
	}

	if len(st.Systems) > 0 {
		ids := make([]string, 0, len(st.Systems))
		for id := range st.Systems {
			ids = append(ids, id)
		}
		// Heaviest weight first, name as tiebreak.
		sort.Slice(ids, func(i, j int) bool {
			wi, wj := st.Systems[ids[i]].Weight, st.Systems[ids[j]].Weight
			if wi != wj {
				return wi > wj
			}
			return ids[i] < ids[j]
		})
		fmt.Println("\nsystems")
		for _, id := range ids {
			w := st.Systems[id]
			fmt.Printf("  %-24s w=%.3f perf=%.2f win=%.2f n=%d\n",
				id, w.Weight, w.PerformanceScore, w.WinRate, w.RecentTradeCount)
		}
	}
}
