package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

func newChatCmd() *cobra.Command {
	var (
		workspaceID string
		sessionID   string
		customerID  string
		role        string
		deliver     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Long:  "Starts an interactive session against the demo shop. Confirmation buttons are shown as confirm:<token> / cancel:<token> lines that can be typed back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, deliver)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sessionID = "cli-" + uuid.NewString()[:8]
			}
			err = chatLoop(ctx, a, os.Stdin, cmd.OutOrStdout(), contractx.InboundMessage{
				WorkspaceID: workspaceID,
				SessionID:   sessionID,
				CustomerID:  customerID,
				ChannelID:   "cli:" + sessionID,
				Role:        contractx.Role(role),
			})
			printToolStats(cmd.OutOrStdout(), a.metrics)
			return err
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "demo", "workspace id")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	cmd.Flags().StringVar(&customerID, "customer", "cli-customer", "customer id")
	cmd.Flags().StringVar(&role, "role", string(contractx.RoleCustomer), "caller role: customer, staff or owner")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "also publish replies through QStash")

	return cmd
}

func chatLoop(ctx context.Context, a *app, in io.Reader, out io.Writer, base contractx.InboundMessage) error {
	fmt.Fprintf(out, "session %s (ctrl+d to quit)\n", base.SessionID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		msg := base
		msg.MessageID = uuid.NewString()
		msg.Text = text
		res, err := a.orch.HandleMessage(ctx, msg)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		if res.Silent {
			fmt.Fprintln(out, "(a person from the shop will answer)")
			continue
		}
		fmt.Fprintln(out, res.Reply)
		for _, b := range res.Buttons {
			fmt.Fprintf(out, "  [%s] %s\n", b.Title, b.Payload)
		}
		fmt.Fprintf(out, "  · %s / %s\n", res.State, res.Thread)
	}
}

// printToolStats summarizes the tool executions of the session.
func printToolStats(out io.Writer, gatherer prometheus.Gatherer) {
	families, err := gatherer.Gather()
	if err != nil {
		return
	}
	for _, family := range families {
		if family.GetName() != "retail_tool_executions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			fmt.Fprintf(out, "tool %s: %.0f\n", strings.Join(labels, " "), metric.GetCounter().GetValue())
		}
	}
}
