package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/BradenHooton/clinitrust/internal/services"
	"github.com/spf13/cobra"
)

// Ledger is the read side of the audit chain used by the CLI.
type Ledger interface {
	Verify(ctx context.Context, opts services.VerifyOptions) (*services.VerificationResult, error)
	Tail(ctx context.Context, n int) ([]*models.AuditEntry, error)
}

type ledgerOpener func(ctx context.Context) (Ledger, func(), error)

// errTampered makes the process exit 1 after the report has been printed.
var errTampered = errors.New("audit chain integrity violation")

func newRootCmd(open ledgerOpener) *cobra.Command {
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect and verify the clinical audit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(newVerifyCmd(open, &jsonOutput), newTailCmd(open, &jsonOutput))
	return root
}

func newVerifyCmd(open ledgerOpener, jsonOutput *bool) *cobra.Command {
	var opts services.VerifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain and report broken positions",
		Long: `Recompute every entry hash from genesis and check each link.

Examples:
  auditctl verify                 # stop at the first broken position
  auditctl verify --all           # report every broken position
  auditctl verify --from 100 --to 200 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.From < 0 || opts.To < 0 || (opts.To > 0 && opts.From > opts.To) {
				return fmt.Errorf("invalid range --from %d --to %d", opts.From, opts.To)
			}

			ledger, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := ledger.Verify(cmd.Context(), opts)
			var violation *models.IntegrityViolationError
			if err != nil && !errors.As(err, &violation) {
				return fmt.Errorf("verify: %w", err)
			}

			out := cmd.OutOrStdout()
			if *jsonOutput {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				printVerification(out, result)
			}

			if !result.Valid {
				return errTampered
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "first position to report")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last position to check (0 = tail)")
	cmd.Flags().BoolVar(&opts.Exhaustive, "all", false, "keep going after the first failure")
	return cmd
}

func newTailCmd(open ledgerOpener, jsonOutput *bool) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := ledger.Tail(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("tail: %w", err)
			}

			out := cmd.OutOrStdout()
			if *jsonOutput {
				return writeJSON(out, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%6d  %s  %-16s %-24s %-7s %-7s %s\n",
					e.Seq,
					e.Timestamp.UTC().Format(time.RFC3339),
					e.EventCategory,
					e.EventType,
					e.Action,
					e.Status,
					deref(e.ActorID, "-"),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	return cmd
}

func printVerification(out io.Writer, r *services.VerificationResult) {
	if r.Valid {
		fmt.Fprintf(out, "OK  %d entries, %d checked, tail %s\n", r.Length, r.Checked, shortHash(r.TailHash))
		return
	}
	for _, f := range r.Failures {
		fmt.Fprintf(out, "TAMPERED  position %d: %s\n", f.Position, f.Reason)
	}
	fmt.Fprintf(out, "%d entries, %d checked, first invalid position %d\n", r.Length, r.Checked, *r.FirstInvalid)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
