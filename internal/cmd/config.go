package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	embeddedconfig "github.com/mindney/mindney-go/config"
	"github.com/mindney/mindney-go/internal/appdir"
	"github.com/mindney/mindney-go/internal/fileutil"
)

var (
	configOutputPath string
	configForce      bool
	configReveal     bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the Mindney profile",
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write the default profile",
	Long: `Write the embedded default profile to config.yaml in the Mindney
directory ($MINDNEY_DIR or the platform config directory).

Examples:
  mindney config create                      # Create the default config.yaml
  mindney config create -o ./mindney.yaml    # Write somewhere else
  mindney config create --force              # Overwrite an existing file`,
	Annotations: map[string]string{annotationNoProfile: "true"},
	RunE:        runConfigCreate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective profile",
	Long: `Print the profile after config.yaml, .env, MINDNEY_* variables, flags and
the keychain have been applied. Secrets are masked unless --reveal is given.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCreateCmd, configShowCmd)

	configCreateCmd.Flags().StringVarP(&configOutputPath, "output", "o", "",
		"File to write (default: config.yaml in the Mindney directory)")
	configCreateCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite an existing file")
	configShowCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print secrets in clear text")
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	path := configOutputPath
	if path == "" {
		var err error
		if path, err = appdir.ConfigPath(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if fileutil.Exists(path) && !configForce {
		fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
		fmt.Fprintln(out, "Use --force to overwrite the existing file.")
		return nil
	}

	// 0600: the file may hold credentials.
	if err := fileutil.WriteAtomic(path, embeddedconfig.DefaultConfigYAML, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Fprintf(out, "Configuration file created: %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Set client_id in the file")
	fmt.Fprintln(out, "  2. Run 'mindney login' or set api_key and secret_token")
	fmt.Fprintln(out, "  3. Run 'mindney chat'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	p := *profile
	if !configReveal {
		p.APIKey = mask(p.APIKey)
		p.SecretToken = mask(p.SecretToken)
	}
	out, err := yaml.Marshal(&p)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// mask keeps the last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "********"
	default:
		return "********" + s[len(s)-4:]
	}
}
