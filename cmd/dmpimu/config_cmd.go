package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "print",
		Short:   "print the resolved configuration with defaults applied",
		Example: `  dmpimu config print > /etc/dmpimu/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})
	return cmd
}
