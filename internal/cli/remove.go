package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"catalogpolicy/internal/reconcile"
)

type RemoveOptions struct {
	*RootOptions
	Sids []string
}

func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remove --sid SID [--sid SID...]",
		Short: "Remove owned statements from the policy document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reconcileAndPrint(opts.RootOptions, cmd, reconcile.Request{
				Operation: reconcile.Delete,
				OwnedSids: opts.Sids,
				RequestID: uuid.NewString(),
			})
		},
	}

	cmd.Flags().StringArrayVar(&opts.Sids, "sid", nil, "owned Sid to remove (repeatable)")
	_ = cmd.MarkFlagRequired("sid")

	return cmd
}
