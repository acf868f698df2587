/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/account"
	"github.com/profilekit/accounts/internal/client"
	"github.com/spf13/cobra"
)

var (
	accountEmail    string
	accountPassword string
	accountUsername string
	accountWebsite  string
)

// accountCmd groups the account settings commands that talk to a running server.
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the signed-in user's account settings",
	Long: `Manage the signed-in user's account settings against a running server.

The API is taken from ACCOUNTS_API_URL and the session is kept in
ACCOUNTS_SESSION_FILE between invocations.`,
}

var accountSignUpCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAccountClient(config.LoadConfig())
		if err != nil {
			return err
		}
		session, err := c.SignUp(cmd.Context(), accountEmail, accountPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed up as %s\n", session.User.Email)
		return nil
	},
}

var accountLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAccountClient(config.LoadConfig())
		if err != nil {
			return err
		}
		session, err := c.SignIn(cmd.Context(), accountEmail, accountPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", session.User.Email)
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		panel, err := loadPanel(cmd)
		if err != nil {
			return err
		}
		printState(cmd.OutOrStdout(), panel.State())
		return nil
	},
}

var accountUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change username and website",
	RunE: func(cmd *cobra.Command, args []string) error {
		panel, err := loadPanel(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if !flags.Changed("username") && !flags.Changed("website") {
			return errors.New("nothing to update; pass --username and/or --website")
		}
		if flags.Changed("username") {
			panel.SetUsername(accountUsername)
		}
		if flags.Changed("website") {
			panel.SetWebsite(accountWebsite)
		}
		if err := panel.Save(cmd.Context()); err != nil {
			return alertedError{err}
		}
		printState(cmd.OutOrStdout(), panel.State())
		return nil
	},
}

var accountAvatarCmd = &cobra.Command{
	Use:   "avatar <image-file>",
	Short: "Upload a new avatar image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		panel, err := loadPanel(cmd)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := panel.UploadAvatar(cmd.Context(), f.Name(), f); err != nil {
			return alertedError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "avatar: %s\n", panel.State().AvatarURL)
		return nil
	},
}

var accountLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAccountClient(config.LoadConfig())
		if err != nil {
			return err
		}
		panel := account.New(c, stderrNotifier(cmd))
		if err := panel.SignOut(cmd.Context()); err != nil {
			return alertedError{err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountSignUpCmd, accountLoginCmd, accountShowCmd, accountUpdateCmd, accountAvatarCmd, accountLogoutCmd)

	for _, c := range []*cobra.Command{accountSignUpCmd, accountLoginCmd} {
		c.Flags().StringVar(&accountEmail, "email", "", "account email")
		c.Flags().StringVar(&accountPassword, "password", os.Getenv("ACCOUNTS_PASSWORD"), "account password (default $ACCOUNTS_PASSWORD)")
		_ = c.MarkFlagRequired("email")
	}
	accountUpdateCmd.Flags().StringVar(&accountUsername, "username", "", "new username (empty clears it)")
	accountUpdateCmd.Flags().StringVar(&accountWebsite, "website", "", "new website (empty clears it)")
}

func newAccountClient(cfg config.Config) (*client.Client, error) {
	return client.New(cfg.Client.APIURL, client.WithTokenStore(client.FileTokenStore{Path: cfg.Client.SessionFile}))
}

func stderrNotifier(cmd *cobra.Command) account.Notifier {
	return account.NotifierFunc(func(message string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "alert: %s\n", message)
	})
}

// loadPanel builds the panel and runs the initial load, as opening the
// settings screen would.
func loadPanel(cmd *cobra.Command) (*account.Panel, error) {
	c, err := newAccountClient(config.LoadConfig())
	if err != nil {
		return nil, err
	}
	panel := account.New(c, stderrNotifier(cmd))
	if err := panel.Load(cmd.Context()); err != nil {
		return nil, alertedError{err}
	}
	return panel, nil
}

func printState(w io.Writer, s account.State) {
	fmt.Fprintf(w, "email:    %s\n", s.Email)
	fmt.Fprintf(w, "username: %s\n", orDash(s.Username))
	fmt.Fprintf(w, "website:  %s\n", orDash(s.Website))
	fmt.Fprintf(w, "avatar:   %s\n", orDash(s.AvatarURL))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
