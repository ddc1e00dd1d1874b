package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/config"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/engine"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/signal"
)

// evalInput is the one-shot evaluation request. A present exit block routes
// the request down the exit path; otherwise it is an entry evaluation.
type evalInput struct {
	Symbol  string              `json:"symbol"`
	Signals []signal.Output     `json:"signals"`
	Exit    *engine.ExitRequest `json:"exit,omitempty"`
}

func evaluateCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation from a JSON request and print the decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			in, err := readEvalInput(inputPath)
			if err != nil {
				return err
			}
			if in.Symbol == "" {
				return fmt.Errorf("request is missing a symbol")
			}

			eng := engine.New(&cfg.Engine)

			var decision *engine.FusedDecision
			if in.Exit != nil {
				req := *in.Exit
				if req.Position.Symbol == "" {
					req.Position.Symbol = in.Symbol
				}
				decision = eng.EvaluateExit(req, in.Signals)
			} else {
				decision = eng.EvaluateEntry(in.Symbol, in.Signals)
			}

			out, err := json.MarshalIndent(decision, "", "  ")
			if err != nil {
				return fmt.Errorf("encode decision: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "path to the request JSON (blank reads stdin)")
	return cmd
}

func readEvalInput(path string) (*evalInput, error) {
	r := os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in evalInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &in, nil
}
