package main

import (
	"github.com/goccy/go-yaml"
	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/spf13/cobra"
)

type registryReport struct {
	Activators []extension.ActivatorStatus `json:"activators" yaml:"activators"`
	Registries []extension.RegistryStatus  `json:"registries" yaml:"registries"`
}

func newRegistryCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "List the built-in activators and the size of every registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, err := o.loadTool()
			if err != nil {
				return err
			}
			defer logger.Sync()

			p, err := extension.NewDefault(logger)
			if err != nil {
				return err
			}
			defer p.Close()

			out, err := yaml.Marshal(registryReport{
				Activators: p.Activators(),
				Registries: p.Registries(),
			})
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(out)
			return nil
		},
	}
}
