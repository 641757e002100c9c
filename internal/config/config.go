package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/jobstore"
	"github.com/robmartinson/tablesync/internal/schema"
)

// Version is the release reported by the version command.
const Version = "1.0.0"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "tablesync",
		Short: "Resumable table synchronization between SQL databases",
		Long: `Synchronizes a fixed set of tables between the local database and an
external PostgreSQL, MySQL or SQLite endpoint in bounded, resumable steps.
Also bootstraps schemas, renders MySQL dumps and takes JSON backups.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and runs it until ctx
// is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// endpointFlags are bound under the local. and external. config keys.
var endpointFlags = []string{"dialect", "url", "host", "port", "db", "user", "password", "sslmode", "sshkey", "sshuser", "sshhost", "sshport", "sshknownhosts"}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tablesync.yaml)")

	// Local database connection flags
	flags.String("dialect", "", "local database dialect (postgres, mysql, sqlite; default postgres)")
	flags.String("url", "", "local database URL (optional)")
	flags.String("host", "", "local database host (default localhost)")
	flags.Int("port", 0, "local database port")
	flags.String("db", "", "local database name, or file path for sqlite")
	flags.String("user", "", "local database user")
	flags.String("password", "", "local database password")
	flags.String("sslmode", "", "local database SSL mode")

	// SSH tunnel flags
	flags.String("sshkey", "", "Path to SSH private key file")
	flags.String("sshuser", "", "SSH user")
	flags.String("sshhost", "", "SSH host")
	flags.Int("sshport", 22, "SSH port")
	flags.String("sshknownhosts", "", "known_hosts file used to verify the SSH host")

	// External endpoint flags; the rest of the endpoint comes from the config file
	flags.String("external-url", "", "external endpoint URL")
	flags.String("external-password", "", "external endpoint password")

	flags.Int("page-size", database.DefaultPageSize, "rows fetched per step")
	flags.Int("write-batch", database.DefaultWriteBatch, "rows per multi-row upsert")
	flags.String("jobstore", "none", "server-held job store (bolt, postgres, none)")
	flags.String("jobstore-path", "tablesync-jobs.db", "bolt job store file")
	flags.String("jobstore-dsn", "", "postgres job store connection string")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (json, console)")

	rootCmd.AddCommand(serveCmd, syncCmd, schemaCmd, dumpCmd, backupCmd, restoreCmd, validateCmd, versionCmd)

	// Bind all flags to viper
	viper.BindPFlags(flags)
	for _, name := range endpointFlags {
		viper.BindPFlag("local."+name, flags.Lookup(name))
	}
	viper.BindPFlag("external.url", flags.Lookup("external-url"))
	viper.BindPFlag("external.password", flags.Lookup("external-password"))
	viper.SetDefault("dump-chunk", 50)
	viper.SetDefault("http-bind", ":8080")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".tablesync")
	}

	viper.SetEnvPrefix("TABLESYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// endpointFrom reads the endpoint stored under prefix.
func endpointFrom(v *viper.Viper, prefix string) database.Endpoint {
	key := func(name string) string { return prefix + "." + name }
	return database.Endpoint{
		Dialect:       dialect.Dialect(v.GetString(key("dialect"))),
		URL:           v.GetString(key("url")),
		Host:          v.GetString(key("host")),
		Port:          v.GetInt(key("port")),
		Database:      v.GetString(key("db")),
		User:          v.GetString(key("user")),
		Password:      v.GetString(key("password")),
		SSLMode:       v.GetString(key("sslmode")),
		Params:        v.GetString(key("params")),
		SSHKey:        v.GetString(key("sshkey")),
		SSHUser:       v.GetString(key("sshuser")),
		SSHHost:       v.GetString(key("sshhost")),
		SSHPort:       v.GetInt(key("sshport")),
		SSHKnownHosts: v.GetString(key("sshknownhosts")),
	}
}

// externalConfigured reports whether any external endpoint is configured.
func externalConfigured(v *viper.Viper) bool {
	return v.GetString("external.url") != "" || v.GetString("external.host") != "" || v.GetString("external.db") != ""
}

// newLogger builds the process logger.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log-level: %w", err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log-format %q (want json or console)", format)
	}
	cfg.Level = lvl
	return cfg.Build()
}

// settings is the resolved process configuration shared by the commands.
type settings struct {
	logger     *zap.Logger
	catalog    *schema.Catalog
	pageSize   int
	writeBatch int
}

func loadSettings() (*settings, error) {
	logger, err := newLogger(viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		return nil, err
	}
	catalog := schema.Builtin()
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &settings{
		logger:     logger,
		catalog:    catalog,
		pageSize:   viper.GetInt("page-size"),
		writeBatch: viper.GetInt("write-batch"),
	}, nil
}

// openEndpoint connects to ep, prompting for a missing password when
// attached to a terminal.
func (s *settings) openEndpoint(ctx context.Context, ep database.Endpoint) (*database.Conn, error) {
	ep, err := promptPassword(ep)
	if err != nil {
		return nil, err
	}
	return database.Open(ctx, ep, s.logger)
}

func (s *settings) openLocal(ctx context.Context) (*database.Conn, error) {
	return s.openEndpoint(ctx, localEndpoint(viper.GetViper()))
}

// localEndpoint reads the local endpoint, defaulting to PostgreSQL on
// localhost when no URL is given.
func localEndpoint(v *viper.Viper) database.Endpoint {
	ep := endpointFrom(v, "local")
	if ep.URL == "" {
		if ep.Dialect == "" {
			ep.Dialect = dialect.Postgres
		}
		if ep.Host == "" && ep.Dialect != dialect.SQLite {
			ep.Host = "localhost"
		}
	}
	return ep
}

func (s *settings) externalEndpoint() (database.Endpoint, error) {
	if !externalConfigured(viper.GetViper()) {
		return database.Endpoint{}, fmt.Errorf("no external endpoint configured (use --external-url or the external section of the config file)")
	}
	return promptPassword(endpointFrom(viper.GetViper(), "external"))
}

func promptPassword(ep database.Endpoint) (database.Endpoint, error) {
	ep, err := ep.Normalize()
	if err != nil {
		return ep, err
	}
	if ep.Password != "" || ep.User == "" || !term.IsTerminal(int(os.Stdin.Fd())) {
		return ep, nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", ep)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ep, fmt.Errorf("failed to read password: %w", err)
	}
	ep.Password = string(pw)
	return ep, nil
}

// openJobStore opens the configured job store; kind "none" returns nil.
func openJobStore(ctx context.Context, kind, path, dsn string) (jobstore.Store, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "memory":
		return jobstore.NewMemory(), nil
	case "bolt":
		return jobstore.OpenBolt(path)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("jobstore-dsn is required for the postgres job store")
		}
		return jobstore.OpenPG(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown jobstore %q (want bolt, postgres or none)", kind)
}
