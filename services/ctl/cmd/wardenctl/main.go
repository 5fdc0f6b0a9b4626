package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"warden/services/ctl"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:           "wardenctl",
		Short:         "Utility for driving the warden action governance API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&apiBaseURL, "api", envOr("WARDEN_API", "http://localhost:8080"), "Base URL of the warden API")

	cmd.AddCommand(newActionsCommand(&apiBaseURL))
	cmd.AddCommand(newLifecycleCommand(&apiBaseURL, "preview", "Render the dry-run preview for an action"))
	cmd.AddCommand(newLifecycleCommand(&apiBaseURL, "approve", "Issue a time-boxed single-use approval"))
	cmd.AddCommand(newLifecycleCommand(&apiBaseURL, "execute", "Execute an approved action"))
	cmd.AddCommand(newLifecycleCommand(&apiBaseURL, "rollback", "Restore state captured before a prior execution"))
	cmd.AddCommand(newJobCommand(&apiBaseURL))
	cmd.AddCommand(newAuditCommand(&apiBaseURL))
	return cmd
}

func newActionsCommand(apiBaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the allowlisted actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctl.NewClient(*apiBaseURL)
			if err != nil {
				return err
			}
			out, err := client.ListActions(cmdContext(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newLifecycleCommand(apiBaseURL *string, op, short string) *cobra.Command {
	var (
		approvalID string
		chatID     string
		userID     string
		params     []string
	)

	cmd := &cobra.Command{
		Use:   op + " <action-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL)
			if err != nil {
				return err
			}
			parsed, err := ctl.ParseParams(params)
			if err != nil {
				return err
			}

			req := ctl.ActionRequest{
				Op:         op,
				ActionID:   args[0],
				ApprovalID: approvalID,
				Parameters: parsed,
			}
			if chatID != "" {
				req.ChatID = &chatID
			}
			if userID != "" {
				req.UserID = &userID
			}

			out, err := client.Action(cmdContext(cmd), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "Chat session id for the audit trail")
	cmd.Flags().StringVar(&userID, "user", "", "User id for the audit trail")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Action parameter as key=value (repeatable)")
	if op == "execute" || op == "rollback" {
		cmd.Flags().StringVar(&approvalID, "approval", "", "Approval id")
	}
	if op == "execute" {
		_ = cmd.MarkFlagRequired("approval")
	}
	return cmd
}

func newJobCommand(apiBaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the status and logs of one execution job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL)
			if err != nil {
				return err
			}
			out, err := client.Job(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newAuditCommand(apiBaseURL *string) *cobra.Command {
	var (
		chatID string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the merged consent, action, and diagnostics timeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctl.NewClient(*apiBaseURL)
			if err != nil {
				return err
			}
			out, err := client.Audit(cmdContext(cmd), chatID, limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "Filter by chat session id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	return cmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
