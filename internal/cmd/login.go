// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/azure/azure-xplat-cli/pkg/account"
	"github.com/azure/azure-xplat-cli/pkg/auth"
	"github.com/azure/azure-xplat-cli/pkg/config"
	"github.com/azure/azure-xplat-cli/pkg/ioc"
	"github.com/azure/azure-xplat-cli/pkg/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

type loginFlags struct {
	username         string
	password         string
	tenant           string
	servicePrincipal bool
	certificateFile  string
	thumbprint       string
	useDeviceCode    bool
	cloudConsole     bool
	managedIdentity  bool
	resolveProviders bool
}

func (lf *loginFlags) Bind(local *pflag.FlagSet) {
	local.StringVarP(&lf.username, "username", "u", "", "The user name, or the application id of a service principal.")
	local.StringVarP(&lf.password, "password", "p", "", "The password, or the secret of a service principal.")
	local.StringVar(&lf.tenant, "tenant", "", "The tenant to log in to. Required for service principals.")
	local.BoolVar(&lf.servicePrincipal, "service-principal", false, "Log in as a service principal.")
	local.StringVar(
		&lf.certificateFile, "certificate-file", "", "A PEM or PKCS#12 certificate to log in a service principal with.")
	local.StringVar(&lf.thumbprint, "thumbprint", "", "The SHA-1 thumbprint of the certificate, in hex.")
	local.BoolVar(&lf.useDeviceCode, "use-device-code", false, "Log in with a device code, even when a username is given.")
	local.BoolVar(&lf.cloudConsole, "cloud-console", false, "Use the tokens handed over by a cloud console host.")
	local.BoolVar(&lf.managedIdentity, "managed-identity", false, "Log in with the managed identity of this host.")
	local.BoolVar(
		&lf.resolveProviders, "resolve-providers", false, "Look up the registered resource providers of each subscription.")

	_ = local.MarkHidden("cloud-console")
}

func (lf *loginFlags) validate() error {
	if lf.certificateFile != "" && !lf.servicePrincipal {
		return errors.New("--certificate-file requires --service-principal")
	}
	if lf.servicePrincipal && lf.username == "" {
		return errors.New("--service-principal requires --username to name the application id")
	}
	if lf.servicePrincipal && lf.tenant == "" {
		return errors.New("--service-principal requires --tenant")
	}
	if lf.cloudConsole && lf.managedIdentity {
		return errors.New("--cloud-console and --managed-identity cannot be combined")
	}

	return nil
}

func newLoginCmd(container *ioc.Container) *cobra.Command {
	flags := &loginFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and load the subscriptions of the account.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}

			return container.Invoke(func(
				loader *account.Loader,
				profile *account.Profile,
				cfg config.Config,
			) error {
				return runLogin(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(),
					flags, loader, profile, cfg)
			})
		},
	}

	flags.Bind(cmd.Flags())

	return cmd
}

func runLogin(
	ctx context.Context,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	flags *loginFlags,
	loader *account.Loader,
	profile *account.Profile,
	cfg config.Config,
) error {
	options := account.LoadOptions{
		Interactive:       flags.useDeviceCode,
		ServicePrincipal:  flags.servicePrincipal,
		CloudConsoleLogin: flags.cloudConsole,
		ManagedIdentity:   flags.managedIdentity,
		Thumbprint:        flags.thumbprint,
		ResolveProviders:  flags.resolveProviders,
		Prompt: func(code auth.DeviceCode) {
			fmt.Fprintln(stderr, output.WithHighLightFormat(code.Message))
		},
	}

	if pinned, has := cfg.GetString(cDefaultSubscriptionKey); has {
		options.DefaultSubscriptionID = pinned
	}

	if flags.certificateFile != "" {
		data, err := os.ReadFile(flags.certificateFile)
		if err != nil {
			return fmt.Errorf("reading certificate: %w", err)
		}
		options.Certificate = data
	}

	password := flags.password
	if needsPassword(flags) {
		p, err := readPassword(stdin, stderr)
		if err != nil {
			return err
		}
		password = p
	}

	acct, err := loader.Load(ctx, flags.username, password, flags.tenant, options)
	if err != nil {
		var classified *auth.ClassifiedError
		if errors.As(err, &classified) && classified.RequiresInteractiveFallback {
			fmt.Fprintln(stderr, output.WithWarningFormat(
				"%s. Run %s without a username to log in interactively.",
				classified.Reason, output.WithBackticks("azure login")))
		}
		return err
	}

	if err := profile.Save(acct); err != nil {
		return err
	}

	if len(acct.Subscriptions) == 0 {
		fmt.Fprintln(stderr, output.WithWarningFormat("%s has no subscriptions.", acct.User.Name))
		return nil
	}

	for _, s := range acct.Subscriptions {
		marker := ""
		if s.IsDefault {
			marker = " (default)"
		}
		fmt.Fprintf(stdout, "Added subscription %s%s\n", output.WithHighLightFormat(s.Name), marker)
	}

	fmt.Fprintln(stdout, output.WithSuccessFormat("Login complete for %s.", acct.User.Name))
	return nil
}

func needsPassword(flags *loginFlags) bool {
	return flags.username != "" &&
		flags.password == "" &&
		flags.certificateFile == "" &&
		!flags.useDeviceCode &&
		!flags.cloudConsole &&
		!flags.managedIdentity
}

// readPassword reads without echo from a terminal, or a single line otherwise.
func readPassword(stdin io.Reader, stderr io.Writer) (string, error) {
	fmt.Fprint(stderr, "Password: ")
	defer fmt.Fprintln(stderr)

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
