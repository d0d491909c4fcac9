package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewLoginCmd exchanges credentials for tokens and stores them.
func NewLoginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and store API credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			username := ""
			if len(args) == 1 {
				username = args[0]
			} else {
				fmt.Fprint(out, "Username: ")
				if username, err = readLine(in); err != nil {
					return err
				}
			}
			if username == "" {
				return fmt.Errorf("username is required")
			}

			fmt.Fprint(out, "Password: ")
			password, err := readPassword(in)
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			client := newAPIClient(cfg, log)
			if _, err := client.Login(cmd.Context(), username, password); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintf(out, "Signed in as %s. Credentials saved to %s\n", username, cfg.Auth.CredentialsPath)
			return nil
		},
	}
}

// NewLogoutCmd revokes and forgets the stored tokens.
func NewLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := newAPIClient(cfg, log).Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

// readPassword hides input on a terminal and falls back to a plain line otherwise.
func readPassword(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		return string(raw), err
	}
	return readLine(in)
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
