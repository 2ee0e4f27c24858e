// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/azure/azure-xplat-cli/pkg/account"
	"github.com/azure/azure-xplat-cli/pkg/ioc"
	"github.com/azure/azure-xplat-cli/pkg/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type accessTokenFlags struct {
	subscription string
	resource     string
}

func (f *accessTokenFlags) Bind(local *pflag.FlagSet) {
	local.StringVarP(&f.subscription, "subscription", "s", "",
		"The id or name of the subscription. Defaults to the default subscription.")
	local.StringVar(&f.resource, "resource", "",
		"The resource to request the token for. Defaults to the management resource.")
}

// accessTokenResult is the output of `account get-access-token`.
type accessTokenResult struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresOn    time.Time `json:"expiresOn"`
	Subscription string    `json:"subscription"`
	Tenant       string    `json:"tenant"`
}

var accessTokenColumns = output.TableFormatterOptions{
	Columns: []output.Column{
		{Heading: "Subscription", ValueTemplate: "{{.Subscription}}"},
		{Heading: "Tenant", ValueTemplate: "{{.Tenant}}"},
		{Heading: "ExpiresOn", ValueTemplate: "{{.ExpiresOn.Format \"2006-01-02T15:04:05Z07:00\"}}"},
		{Heading: "AccessToken", ValueTemplate: "{{.AccessToken}}"},
	},
}

func newAccountGetAccessTokenCmd(container *ioc.Container) *cobra.Command {
	flags := &accessTokenFlags{}

	cmd := &cobra.Command{
		Use:   "get-access-token",
		Short: "Print an access token for a stored subscription, without logging in again.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts *GlobalCommandOptions
			if err := container.Resolve(&opts); err != nil {
				return err
			}

			return container.Invoke(func(profile *account.Profile, loader *account.Loader) error {
				return runGetAccessToken(
					cmd.Context(), cmd.OutOrStdout(), output.Format(opts.OutputFormat), flags, profile, loader)
			})
		},
	}
	flags.Bind(cmd.Flags())

	return cmd
}

func runGetAccessToken(
	ctx context.Context,
	stdout io.Writer,
	format output.Format,
	flags *accessTokenFlags,
	profile *account.Profile,
	loader *account.Loader,
) error {
	sub, err := profile.Subscription(flags.subscription)
	if err != nil {
		return err
	}

	token, err := loader.AccessToken(ctx, sub, flags.resource)
	if err != nil {
		return fmt.Errorf("fetching token: %w", err)
	}

	res := accessTokenResult{
		AccessToken:  token.Token,
		TokenType:    "Bearer",
		ExpiresOn:    token.ExpiresOn.UTC(),
		Subscription: sub.ID,
		Tenant:       sub.TenantID,
	}

	formatter, err := output.NewFormatter(string(format))
	if err != nil {
		return err
	}

	if format == output.JsonFormat {
		return formatter.Format(res, stdout, nil)
	}
	return formatter.Format([]accessTokenResult{res}, stdout, accessTokenColumns)
}
