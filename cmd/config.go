package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/config"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/render"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage meterstat configuration",
	Long: `Read and write meterstat configuration stored in meterstat.json
(or meterstat.yaml). Values from .env and the environment override the file.`,
}

// ─── config init ──────────────────────────────────────────────────────────────

var configInitYAML bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a template meterstat.json in the current directory",
	Example: `  meterstat config init
  meterstat config init --yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if configInitYAML {
			path = config.DefaultYAMLFile
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (delete it first to re-initialise)", path)
		}
		if err := config.WriteFile(path, config.Template()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created %s\n", path)
		fmt.Fprintln(out, "  Set s3.bucket and the S3 credentials (or put them in .env),")
		fmt.Fprintln(out, "  or switch to the local store with: meterstat config set backend bolt")
		return nil
	},
}

// ─── config get ───────────────────────────────────────────────────────────────

var configGetShowSecrets bool

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current resolved configuration",
	Example: `  meterstat config get
  meterstat config get --format json
  meterstat config get --show-secrets`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		secret := cfg.RedactedSecret()
		if configGetShowSecrets {
			secret = cfg.S3.SecretAccessKey
		}
		fields := render.FieldsFromMap(map[string]string{
			"backend":              cfg.Backend,
			"s3.bucket":            orUnset(cfg.S3.Bucket),
			"s3.region":            orUnset(cfg.S3.Region),
			"s3.endpoint_url":      orUnset(cfg.S3.EndpointURL),
			"s3.access_key_id":     orUnset(cfg.S3.AccessKeyID),
			"s3.secret_access_key": orUnset(secret),
			"s3.path_style":        strconv.FormatBool(cfg.S3.PathStyle),
			"db_path":              cfg.DBPath,
			"target_column":        cfg.TargetColumn,
			"agg_minutes":          strconv.Itoa(cfg.AggMinutes),
			"default_format":       cfg.Format,
			"timeout":              cfg.Timeout.String(),
			"rate":                 fmt.Sprintf("%.1f req/s", cfg.Rate),
			"retries":              strconv.Itoa(cfg.Retries),
			"log_level":            cfg.LogLevel,
			"pushgateway":          orUnset(cfg.Pushgateway),
			"listen":               cfg.Listen,
			"config_file":          orNotFound(cfg.ConfigPath),
			"env_file":             orNotFound(cfg.EnvPath),
		})

		format := resolveFormat(cfg.Format)
		if format == render.FormatTable {
			rows := make([][]string, len(fields))
			for i, f := range fields {
				rows[i] = []string{f.Key, f.Value}
			}
			printKVTable(cmd.OutOrStdout(), rows)
			return nil
		}
		return emit(cmd, newResult(model.KindFields, "config get", fields, len(fields), start), format)
	},
}

// ─── config set ───────────────────────────────────────────────────────────────

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Long: `Set writes one key into the config file named by --config, or into
meterstat.json (meterstat.yaml if only that exists) in the working directory.
A missing file is created from the template.

Keys: ` + fmt.Sprint(config.Keys),
	Example: `  meterstat config set backend bolt
  meterstat config set s3.bucket measurements
  meterstat config set agg_minutes 15`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configSetPath()
		f, err := config.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			tmpl := config.Template()
			f = &tmpl
		}
		if err := f.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.WriteFile(path, *f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s in %s\n", args[0], path)
		return nil
	},
}

// configSetPath picks the file `config set` writes to.
func configSetPath() string {
	if globalFlags.Config != "" {
		return globalFlags.Config
	}
	if _, err := os.Stat(config.DefaultConfigFile); err != nil {
		if _, err := os.Stat(config.DefaultYAMLFile); err == nil {
			return config.DefaultYAMLFile
		}
	}
	return config.DefaultConfigFile
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func orNotFound(s string) string {
	if s == "" {
		return "(not found)"
	}
	return s
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitYAML, "yaml", false, "write meterstat.yaml instead of meterstat.json")
	configGetCmd.Flags().BoolVar(&configGetShowSecrets, "show-secrets", false, "show the S3 secret key in plain text")
}
