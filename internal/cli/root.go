package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override flags:
// LIVEDB_FORMAT, LIVEDB_VERBOSE, LIVEDB_DIR, ...
const EnvPrefix = "LIVEDB"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional config file (yaml, json, toml)
	EnvFile string // dotenv file, ".env" when empty

	v      *viper.Viper
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the livedb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "livedb",
		Short: "livedb - live queries over local collections",
		Long: `Incremental live queries over optimistic collections.

Collections and queries are declared in CUE; scenarios in YAML drive writes
and check what the live queries show.

Flags can also be set through LIVEDB_<FLAG> environment variables, a .env
file, or a config file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd); err != nil {
				return err
			}
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.setupLogging(cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default .env)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

// load layers the dotenv file, the environment and the config file under
// the command line flags.
func (o *RootOptions) load(cmd *cobra.Command) error {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing default .env is fine; a missing explicit one is not.
	if err := godotenv.Load(envFile); err != nil && (o.EnvFile != "" || !errors.Is(err, fs.ErrNotExist)) {
		return WrapExitError(ExitCommandError, "failed to load env file", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "failed to bind flags", err)
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return WrapExitError(ExitCommandError, "failed to bind flags", err)
	}

	if config := v.GetString("config"); config != "" {
		v.SetConfigFile(config)
		if err := v.ReadInConfig(); err != nil {
			return WrapExitError(ExitCommandError, "failed to read config file", err)
		}
	}

	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	o.v = v
	return nil
}

// setting returns a command flag value after environment and config
// overrides. Without a loaded configuration it returns value.
func (o *RootOptions) setting(name, value string) string {
	if o.v == nil {
		return value
	}
	return o.v.GetString(name)
}

// setupLogging installs a text handler on w, at debug level when verbose.
func (o *RootOptions) setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)
}

// Logger returns the command logger.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
