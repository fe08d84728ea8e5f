package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ashureev/lendflow/internal/app"
	"github.com/ashureev/lendflow/internal/audit"
	"github.com/spf13/cobra"
)

// builder opens the wired service; commands close it when done.
type builder func() (*app.App, error)

func newRootCmd(build builder) *cobra.Command {
	root := &cobra.Command{
		Use:   "loancli",
		Short: "Personal loan origination from the terminal",
		Long: `loancli runs a loan application conversation against the local
session store and prints stored sessions and their audit trails.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newChatCmd(build))
	root.AddCommand(newSummaryCmd(build))
	root.AddCommand(newTrailCmd(build))
	return root
}

func newChatCmd(build builder) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume a loan conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd, a, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	return cmd
}

func runChat(cmd *cobra.Command, a *app.App, sessionID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if sessionID == "" {
		reply, err := a.Orchestrator.Start(ctx)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		sessionID = reply.SessionID
		fmt.Fprintf(out, "[%s] %s\n", sessionID, reply.Message)
	} else {
		sum, err := a.Orchestrator.Summary(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		fmt.Fprintf(out, "[%s] resumed at %s\n", sessionID, sum.Stage)
		if sum.Stage.IsTerminal() {
			return nil
		}
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintf(out, "Session %s saved. Resume with: loancli chat --session %s\n", sessionID, sessionID)
			return nil
		}

		reply, err := a.Orchestrator.HandleTurn(ctx, sessionID, line)
		if err != nil {
			return fmt.Errorf("handle turn: %w", err)
		}
		fmt.Fprintln(out, reply.Message)
		if reply.Stage.IsTerminal() {
			fmt.Fprintf(out, "Session %s finished at %s.\n", sessionID, reply.Stage)
			return nil
		}
	}
}

func newSummaryCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Show a session summary and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			sum, err := a.Orchestrator.Summary(ctx, args[0])
			if err != nil {
				return err
			}
			turns, err := a.Orchestrator.Transcript(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:  %s\n", sum.SessionID)
			fmt.Fprintf(out, "Stage:    %s\n", sum.Stage)
			if sum.CustomerID != "" {
				fmt.Fprintf(out, "Customer: %s\n", sum.CustomerID)
			}
			if sum.SanctionID != "" {
				fmt.Fprintf(out, "Sanction: %s\n", sum.SanctionID)
			}
			fmt.Fprintln(out)
			for _, t := range turns {
				fmt.Fprintf(out, "%s  %-8s  %s\n", t.Timestamp.Format(time.TimeOnly), t.Role, t.Text)
			}
			return nil
		},
	}
}

func newTrailCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "trail <session-id>",
		Short: "Print a session's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Orchestrator.Summary(cmd.Context(), args[0]); err != nil {
				return err
			}
			entries, err := a.Audit.Trail(args[0])
			if err != nil {
				return err
			}
			return printTrail(cmd.OutOrStdout(), entries)
		},
	}
}

func printTrail(w io.Writer, entries []audit.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tDETAIL")
	for _, e := range entries {
		switch {
		case e.Transition != nil:
			t := e.Transition
			fmt.Fprintf(tw, "%s\t%s\t%s -> %s (%s)\n", t.Timestamp.Format(time.TimeOnly), e.Kind, t.From, t.To, t.Reason)
		case e.Execution != nil:
			x := e.Execution
			status := "ok"
			if !x.Success {
				status = "failed: " + x.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s %s in %s\n", x.Timestamp.Format(time.TimeOnly), e.Kind, x.Component, status, x.Duration.Round(time.Microsecond))
		}
	}
	return tw.Flush()
}
