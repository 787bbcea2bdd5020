package app

import (
	"context"
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/obdverify/cmd/j1939-verifier/app/options"
	"github.com/autopeer-io/obdverify/pkg/log"
)

func NewVerifierCommand(ctx context.Context) *cobra.Command {
	opts := options.NewVerifierOptions()
	cmd := &cobra.Command{
		Use:   "j1939-verifier",
		Short: "Verify the OBD behaviour of a heavy-duty vehicle over J1939",
		Long: `The j1939-verifier connects to the vehicle bus through a serial CAN adapter
or an MQTT CAN gateway and runs the selected test parts against the OBD
modules it finds, writing a text report of every outcome.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Load(cmd.Flags()); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			log.Init(opts.LogOptions)
			defer log.Flush()

			return Run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	fs := cmd.Flags()
	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	cmd.AddCommand(NewPortsCommand(), NewWatchCommand(ctx))
	return cmd
}
