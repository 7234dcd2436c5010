// Package cmd provides the mindney command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindney/mindney-go/internal/appdir"
	"github.com/mindney/mindney-go/internal/config"
	"github.com/mindney/mindney-go/internal/logging"
	"github.com/mindney/mindney-go/internal/secrets"
	"github.com/mindney/mindney-go/pkg/client"
)

var (
	// Global flags
	configPath    string
	endpointFlag  string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// profile is the effective configuration after flags are applied.
	profile *config.Profile

	// secretStore is swapped out in tests.
	secretStore = secrets.Default
)

// annotationNoProfile marks commands that must run even when the profile
// cannot be loaded.
const annotationNoProfile = "mindney/no-profile"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mindney",
	Short: "Mindney - send prompts to the Mindney AI service",
	Long: `mindney talks to the Mindney AI service over a single authenticated,
persistent connection.

Credentials are read from config.yaml, a .env file in the same directory,
MINDNEY_* environment variables, or the system keychain (see "mindney login").`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if cmd.Annotations[annotationNoProfile] == "true" {
			return initLogging(&config.Profile{})
		}
		p, err := loadProfile()
		if err != nil {
			return err
		}
		profile = p
		return initLogging(p)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Profile path (default: config.yaml in the Mindney directory)")
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "Service endpoint (overrides profile and MINDNEY_ENDPOINT)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log connection lifecycle and requests")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from profile)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Rotated log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (client, transport, cli). Empty means all.")
}

// loadProfile builds the effective profile:
// defaults < config.yaml < .env < environment < flags < keychain for missing secrets.
func loadProfile() (*config.Profile, error) {
	if err := appdir.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to create Mindney directory: %w", err)
	}

	envPath, err := appdir.EnvPath()
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(envPath); err != nil {
		return nil, err
	}

	path := configPath
	if path == "" {
		if path, err = appdir.ConfigPath(); err != nil {
			return nil, err
		}
	}
	p, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	if err := p.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if endpointFlag != "" {
		p.Endpoint = endpointFlag
	}
	if debug {
		p.Debug = true
	}
	if err := p.ResolveSecrets(secretStore()); err != nil {
		return nil, err
	}
	return p, nil
}

// initLogging sets up logging.
// Level priority: --log-level > --debug > profile.
func initLogging(p *config.Profile) error {
	level := p.Log.Level
	if logLevel != "" {
		level = logLevel
	} else if debug {
		level = "debug"
	}

	components := p.Log.Components
	if logComponents != "" {
		components = nil
		for _, c := range strings.Split(logComponents, ",") {
			if c = strings.TrimSpace(c); c != "" {
				components = append(components, c)
			}
		}
	}

	cfg := logging.Config{
		Level:      level,
		JSON:       p.Log.JSON,
		Components: components,
	}
	file := p.Log.File
	if logFile != "" {
		file = logFile
	}
	if file != "" {
		cfg.FileLog = &logging.FileLogConfig{Path: file, Compress: true}
	}
	if err := logging.Initialize(cfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// newClient opens a session with the effective profile.
func newClient(p *config.Profile) (*client.Client, error) {
	opts := append(p.ClientOptions(), client.WithLogger(logging.Client()))
	c, err := client.New(p.ClientConfig(), opts...)
	if err != nil {
		var cfgErr *client.ConfigurationError
		if errors.As(err, &cfgErr) && errors.Is(err, client.ErrMissingCredential) {
			return nil, fmt.Errorf("%w (set it in the profile, MINDNEY_* variables or run \"mindney login\")", err)
		}
		return nil, err
	}
	logging.CLI().Debug("session opened", "endpoint", c.Endpoint())
	return c, nil
}
