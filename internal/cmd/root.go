// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package cmd holds the cobra commands of the azure CLI.
package cmd

import (
	"io"

	azcorelog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/azure/azure-xplat-cli/pkg/ioc"
	"github.com/azure/azure-xplat-cli/pkg/output"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// GlobalCommandOptions are the flags shared by every command.
type GlobalCommandOptions struct {
	EnableDebugLogging bool
	OutputFormat       string
}

func (o *GlobalCommandOptions) Bind(flags *pflag.FlagSet) {
	flags.BoolVar(&o.EnableDebugLogging, "debug", false, "Enables debugging and diagnostics logging.")
	flags.StringVarP(
		&o.OutputFormat, "output", "o", string(output.TableFormat), "The output format (table or json).")
}

// NewRootCmd creates the azure command. A nil container resolves the services of the current user.
func NewRootCmd(container *ioc.Container) *cobra.Command {
	opts := &GlobalCommandOptions{}
	if container == nil {
		container = newContainer()
	}
	ioc.RegisterInstance(container, opts)

	cmd := &cobra.Command{
		Use:   "azure",
		Short: "Manage the Azure accounts and subscriptions used by this machine.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configureLogging(opts.EnableDebugLogging, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	opts.Bind(cmd.PersistentFlags())

	cmd.AddCommand(newLoginCmd(container))
	cmd.AddCommand(newLogoutCmd(container))
	cmd.AddCommand(newAccountCmd(container))

	return cmd
}

func configureLogging(debug bool, writer io.Writer) {
	log.SetOutput(writer)

	if !debug {
		log.SetLevel(log.WarnLevel)
		azcorelog.SetListener(nil)
		return
	}

	log.SetLevel(log.DebugLevel)
	azcorelog.SetListener(func(event azcorelog.Event, msg string) {
		log.WithField("event", string(event)).Debug(msg)
	})
}

func formatterFor(container *ioc.Container) (output.Formatter, error) {
	var opts *GlobalCommandOptions
	if err := container.Resolve(&opts); err != nil {
		return nil, err
	}

	return output.NewFormatter(opts.OutputFormat)
}
