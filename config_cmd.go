package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/quark-mirror/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				shown := *cc.Cfg
				if shown.Remote.Cookie != "" {
					shown.Remote.Cookie = "(redacted)"
				}

				return writeJSON(cc.Stdout, shown)
			}

			return config.RenderEffective(cc.Cfg, cc.CfgPath, cc.Stdout)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with every default",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.CfgPath == "" {
				return fmt.Errorf("no config path: set --config or %s", config.EnvConfig)
			}

			if err := config.WriteDefault(cc.CfgPath); err != nil {
				return err
			}

			cc.Statusf("Wrote %s\n", cc.CfgPath)

			return nil
		},
	}
}
