package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindney/mindney-go/internal/secrets"
)

var (
	loginClientID    string
	loginAPIKey      string
	loginSecretToken string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the api key and secret token in the system keychain",
	Long: `Store credentials for a client id in the system keychain (macOS).
Values not given as flags are read from stdin, one per line.

The client id defaults to the profile's client_id.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials from the system keychain",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	for _, c := range []*cobra.Command{loginCmd, logoutCmd} {
		c.Flags().StringVar(&loginClientID, "client-id", "", "Client id (default: from profile)")
	}
	loginCmd.Flags().StringVar(&loginAPIKey, "api-key", "", "API key")
	loginCmd.Flags().StringVar(&loginSecretToken, "secret-token", "", "Secret token")
}

func loginTarget() (string, error) {
	id := strings.TrimSpace(loginClientID)
	if id == "" && profile != nil {
		id = strings.TrimSpace(profile.ClientID)
	}
	if id == "" {
		return "", errors.New("no client id: pass --client-id or set client_id in the profile")
	}
	return id, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	store := secretStore()
	if !store.IsSupported() {
		return fmt.Errorf("%w: set MINDNEY_API_KEY and MINDNEY_SECRET_TOKEN instead", secrets.ErrNotSupported)
	}
	clientID, err := loginTarget()
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	pair := secrets.Pair{APIKey: loginAPIKey, SecretToken: loginSecretToken}
	if pair.APIKey == "" {
		if pair.APIKey, err = prompt(in, out, "API key: "); err != nil {
			return err
		}
	}
	if pair.SecretToken == "" {
		if pair.SecretToken, err = prompt(in, out, "Secret token: "); err != nil {
			return err
		}
	}
	if pair.APIKey == "" || pair.SecretToken == "" {
		return errors.New("api key and secret token must not be empty")
	}

	if err := secrets.Save(store, clientID, pair); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	fmt.Fprintf(out, "Credentials stored for %s\n", clientID)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	clientID, err := loginTarget()
	if err != nil {
		return err
	}
	err = secrets.Remove(secretStore(), clientID)
	if errors.Is(err, secrets.ErrNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "No stored credentials for %s\n", clientID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove credentials: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Credentials removed for %s\n", clientID)
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(line), nil
}
