package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent/agent/llm"
	configx "github.com/tanpawarit/Chative-Retail-Agent/pkg/config"
	openrouterx "github.com/tanpawarit/Chative-Retail-Agent/pkg/openrouter"
)

func newDoctorCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check model access and storage configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out := cmd.OutOrStdout()

			llmCfg, err := configx.New[llm.Config]("OPENROUTER")
			if err != nil {
				return err
			}
			if err := llmCfg.Validate(); err != nil {
				return err
			}
			seen := map[string]bool{}
			for _, thread := range []contractx.Thread{contractx.ThreadOrder, contractx.ThreadInfo} {
				orCfg := llmCfg.OpenRouterFor(thread)
				if seen[orCfg.Model] {
					continue
				}
				seen[orCfg.Model] = true
				res, err := openrouterx.Probe(ctx, orCfg)
				if err != nil {
					return fmt.Errorf("%s model: %w", thread, err)
				}
				fmt.Fprintf(out, "model %-8s %s (%s) %s\n", thread, res.Model, res.OwnedBy, res.Latency.Round(time.Millisecond))
			}

			a, err := buildApp(ctx, false)
			if err != nil {
				return fmt.Errorf("wiring: %w", err)
			}
			defer a.Close()
			fmt.Fprintln(out, "session store, audit sink and tool registry ok")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "overall check timeout")
	return cmd
}
