package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errCredentialInvalid makes `credential validate` exit non-zero.
var errCredentialInvalid = errors.New("session cookie is missing or rejected")

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Check the session cookie",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the remote with the configured cookie",
		Args:  cobra.NoArgs,
		RunE:  runCredentialValidate,
	})

	return cmd
}

func runCredentialValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	valid := a.guard.Refresh(ctx)

	if cc.Flags.JSON {
		if err := writeJSON(cc.Stdout, map[string]any{
			"valid": valid,
			"audit": a.guard.AuditLog(0),
		}); err != nil {
			return err
		}
	} else {
		state := "valid"
		if !valid {
			state = "invalid"
		}

		fmt.Fprintf(cc.Stdout, "Session cookie: %s\n", state)
	}

	if !valid {
		return errCredentialInvalid
	}

	return nil
}
