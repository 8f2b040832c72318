package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
)

// ShowResult is the JSON payload of policyctl show.
type ShowResult struct {
	Exists   bool             `json:"exists"`
	Version  string           `json:"version,omitempty"`
	Sids     []string         `json:"sids"`
	Document *policy.Document `json:"document,omitempty"`
}

func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current policy document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd)
		},
	}
}

func runShow(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := opts.commandContext(cmd)
	defer cancel()

	a, err := opts.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result := ShowResult{Sids: []string{}}
	doc, version, err := a.Backend.Store.Fetch(ctx)
	switch {
	case policystore.IsNotFound(err):
	case err != nil:
		_ = opts.formatter(cmd).Error("fetch_failed", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to fetch policy document", err)
	default:
		result = ShowResult{Exists: true, Version: string(version), Sids: doc.Sids(), Document: doc}
	}

	text, err := showText(result)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render policy document", err)
	}
	return opts.formatter(cmd).Success(result, text)
}

func showText(result ShowResult) (string, error) {
	if !result.Exists {
		return "No policy document.", nil
	}
	raw, err := result.Document.Marshal()
	if err != nil {
		return "", err
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "Version: %s\nStatements: %d (%s)\n", result.Version, len(result.Sids), strings.Join(result.Sids, ", "))
	if err := json.Indent(&b, raw, "", "  "); err != nil {
		return "", err
	}
	return b.String(), nil
}
