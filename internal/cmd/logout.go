// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package cmd

import (
	"fmt"

	"github.com/azure/azure-xplat-cli/pkg/account"
	"github.com/azure/azure-xplat-cli/pkg/auth"
	"github.com/azure/azure-xplat-cli/pkg/ioc"
	"github.com/azure/azure-xplat-cli/pkg/output"
	"github.com/spf13/cobra"
)

func newLogoutCmd(container *ioc.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <user name>",
		Short: "Forget an account: its subscriptions, cached tokens and stored secrets.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return container.Invoke(func(profile *account.Profile, store auth.Store) error {
				if err := account.Logout(profile, store, resolveSecretStore(container), args[0]); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), output.WithSuccessFormat("Logged out %s.", args[0]))
				return nil
			})
		},
	}
}
