package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/consoledeploy/internal/config"
)

const defaultConfigPath = "config.yaml"

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write or inspect the configuration file",
	}
	configCmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return configCmd
}

func newConfigInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with every default spelled out",
		Args:  cobra.MaximumNArgs(1),
		// Works without a readable configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			written, err := writeDefaultConfig(path, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Put the password in CONSOLEDEPLOY_CREDENTIALS_PASSWORD.\n", written)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	return initCmd
}

// writeDefaultConfig renders the defaults as YAML. It refuses to replace a file unless forced.
func writeDefaultConfig(path string, force bool) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", expanded)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	v := viper.New()
	config.SetDefaults(v)
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return "", err
	}
	return expanded, nil
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, environment and defaults merged)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(cmd, v); err != nil {
				return err
			}
			// Binds the credential and database variables into v.
			if _, err := config.NewConfigFromViper(v); err != nil {
				return err
			}

			settings := v.AllSettings()
			redactSettings(settings)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func redactSettings(settings map[string]interface{}) {
	if creds, ok := settings["credentials"].(map[string]interface{}); ok {
		if pw, _ := creds["password"].(string); pw != "" {
			creds["password"] = "<redacted>"
		}
	}
	if db, ok := settings["database"].(map[string]interface{}); ok {
		if raw, _ := db["url"].(string); raw != "" {
			db["url"] = redactURL(raw)
		}
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
