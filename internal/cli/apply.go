package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/reconcile"
	dErrors "catalogpolicy/pkg/domain-errors"
	platformstrings "catalogpolicy/pkg/platform/strings"
)

type ApplyOptions struct {
	*RootOptions
	File      string
	OwnedSids []string
}

func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply -f statements.json",
		Short: "Merge owned statements into the policy document",
		Long: `Merge owned statements into the policy document.

The file holds a JSON array of statements, each with a unique Sid. Statements
with other Sids are preserved. Pass --owned-sid for Sids a previous apply wrote
that the file no longer contains; they are removed.

Example:
  policyctl apply -f statements.json --owned-sid OldReadAccess`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "statements file, or - for stdin")
	cmd.Flags().StringArrayVar(&opts.OwnedSids, "owned-sid", nil, "previously owned Sid to drop (repeatable)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runApply(opts *ApplyOptions, cmd *cobra.Command) error {
	data, err := readInput(cmd, opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read statements", err)
	}
	statements, err := policy.ParseStatements(data)
	if err != nil {
		_ = opts.formatter(cmd).Error(string(dErrors.CodeOf(err)), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid statements file", err)
	}

	op := reconcile.Create
	if len(opts.OwnedSids) > 0 {
		op = reconcile.Update
	}
	return reconcileAndPrint(opts.RootOptions, cmd, reconcile.Request{
		Operation:       op,
		OwnedSids:       platformstrings.Union(policy.Sids(statements), opts.OwnedSids),
		OwnedStatements: statements,
		RequestID:       uuid.NewString(),
	})
}

// reconcileAndPrint runs req and maps a FAILED outcome to ExitFailure.
func reconcileAndPrint(opts *RootOptions, cmd *cobra.Command, req reconcile.Request) error {
	ctx, cancel := opts.commandContext(cmd)
	defer cancel()

	a, err := opts.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := a.Reconciler.Reconcile(ctx, req)
	f := opts.formatter(cmd)
	if !out.Success {
		_ = f.Error("reconcile_failed", out.Reason, out)
		return NewExitError(ExitFailure, "reconciliation failed: "+out.Reason)
	}
	return f.Success(out, outcomeText(req, out))
}

func outcomeText(req reconcile.Request, out reconcile.Outcome) string {
	action := "unchanged"
	if out.Written {
		action = "written"
	}
	return fmt.Sprintf("%s %s: %s after %d attempt(s), owned Sids %v\nPhysical resource id: %s",
		out.Status(), req.Operation, action, out.Attempts, req.Owned(), out.PhysicalResourceID)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
