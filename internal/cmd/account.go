// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package cmd

import (
	"fmt"
	"io"

	"github.com/azure/azure-xplat-cli/pkg/account"
	"github.com/azure/azure-xplat-cli/pkg/config"
	"github.com/azure/azure-xplat-cli/pkg/ioc"
	"github.com/azure/azure-xplat-cli/pkg/output"
	"github.com/spf13/cobra"
)

var subscriptionColumns = output.TableFormatterOptions{
	Columns: []output.Column{
		{Heading: "Name", ValueTemplate: "{{.Name}}"},
		{Heading: "Id", ValueTemplate: "{{.ID}}"},
		{Heading: "Tenant", ValueTemplate: "{{.TenantID}}"},
		{Heading: "User", ValueTemplate: "{{.User.Name}}"},
		{Heading: "Current", ValueTemplate: "{{.IsDefault}}"},
	},
}

func newAccountCmd(container *ioc.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the subscriptions of the accounts logged in on this machine.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stored subscription.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := formatterFor(container)
			if err != nil {
				return err
			}

			return container.Invoke(func(profile *account.Profile) error {
				subs, err := profile.Subscriptions()
				if err != nil {
					return err
				}
				if len(subs) == 0 {
					return account.ErrNotLoggedIn
				}
				return formatter.Format(subs, cmd.OutOrStdout(), subscriptionColumns)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the default subscription.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := formatterFor(container)
			if err != nil {
				return err
			}

			return container.Invoke(func(profile *account.Profile) error {
				sub, err := profile.DefaultSubscription()
				if err != nil {
					return err
				}
				return formatter.Format([]account.Subscription{sub}, cmd.OutOrStdout(), subscriptionColumns)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <subscription id or name>",
		Short: "Make a subscription the default.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return container.Invoke(func(
				profile *account.Profile,
				cfg config.Config,
				manager config.FileConfigManager,
				dir ConfigDir,
			) error {
				return runAccountSet(cmd.OutOrStdout(), args[0], profile, cfg, manager, dir)
			})
		},
	})

	cmd.AddCommand(newAccountGetAccessTokenCmd(container))

	return cmd
}

// runAccountSet changes the default and pins it, so later logins keep it when the account can still access it.
func runAccountSet(
	stdout io.Writer,
	idOrName string,
	profile *account.Profile,
	cfg config.Config,
	manager config.FileConfigManager,
	dir ConfigDir,
) error {
	sub, err := profile.SetDefaultSubscription(idOrName)
	if err != nil {
		return err
	}

	if err := cfg.Set(cDefaultSubscriptionKey, sub.ID); err != nil {
		return err
	}
	if err := manager.Save(cfg, userConfigPath(dir)); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintf(stdout, "Default subscription set to %s\n", output.WithHighLightFormat(sub.Name))
	return nil
}
