package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/percona/percona-shadowwrite-mongodb/capture"
	"github.com/percona/percona-shadowwrite-mongodb/config"
	"github.com/percona/percona-shadowwrite-mongodb/errors"
	"github.com/percona/percona-shadowwrite-mongodb/log"
	"github.com/percona/percona-shadowwrite-mongodb/server"
	"github.com/percona/percona-shadowwrite-mongodb/shadow"
	"github.com/percona/percona-shadowwrite-mongodb/topo"
	"github.com/percona/percona-shadowwrite-mongodb/util"
)

// contextKey is a type for context keys used in this package.
type contextKey string

// configContextKey is the context key for storing *config.Config.
const configContextKey contextKey = "config"

var (
	Version   = "v0.1.0" //nolint:gochecknoglobals
	Platform  = ""       //nolint:gochecknoglobals
	GitCommit = ""       //nolint:gochecknoglobals
	GitBranch = ""       //nolint:gochecknoglobals
	BuildTime = ""       //nolint:gochecknoglobals
)

func buildVersion() string {
	return Version + " " + GitCommit + " " + BuildTime
}

//nolint:gochecknoglobals
var rootCmd = &cobra.Command{
	Use:   "pswm",
	Short: "Percona ShadowWrite for MongoDB",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return errors.Wrap(err, "load config")
		}

		logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			logLevel = zerolog.InfoLevel
		}

		lg := log.InitGlobals(logLevel, cfg.Log.JSON, cfg.Log.NoColor)
		ctx := lg.WithContext(context.Background())
		ctx = context.WithValue(ctx, configContextKey, cfg)
		cmd.SetContext(ctx)

		return nil
	},

	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

//nolint:gochecknoglobals
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		info := fmt.Sprintf("Version:   %s\nPlatform:  %s\nGitCommit: "+
			"%s\nGitBranch: %s\nBuildTime: %s\nGoVersion: %s",
			Version,
			Platform,
			GitCommit,
			GitBranch,
			BuildTime,
			runtime.Version(),
		)

		cmd.Println(info)
	},
}

//nolint:gochecknoglobals
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get the replication status from a host application serving server.Handler",
	Long:  `Get the replication status from the HTTP status server of a host application.

pswm does not start a status server. The application that owns the primary client
and the shadow.Manager must serve server.Handler on localhost:<port>; this command
reads its /status endpoint.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		status, err := server.NewClient(cfg.Port).Status(cmd.Context())
		if err != nil {
			return err //nolint:wrapcheck
		}

		return printJSON(status)
	},
}

//nolint:gochecknoglobals
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect to the primary and every secondary and report the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := cmd.Context().Value(configContextKey).(*config.Config) //nolint:forcetypeassert

		err := config.Validate(cfg)
		if err != nil {
			return errors.Wrap(err, "validate options")
		}

		log.Ctx(cmd.Context()).Info("Percona ShadowWrite for MongoDB " + buildVersion())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		report := runCheck(ctx, cfg)

		err = printJSON(report)
		if err != nil {
			return err
		}

		if !report.Ok {
			return errors.New("check failed")
		}

		return nil
	},
}

// checkReport is the output of the check command.
type checkReport struct {
	// Ok is true if every enabled target is reachable.
	Ok bool `json:"ok"`
	// Primary is the primary cluster result, if configured.
	Primary *targetReport `json:"primary,omitempty"`
	// Secondaries are the secondary results in configuration order.
	Secondaries []targetReport `json:"secondaries"`
}

type targetReport struct {
	URI       string `json:"uri"`
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
	Err       string `json:"error,omitempty"`
}

// runCheck connects the primary with a write tap installed and initializes
// replication to the secondaries, then terminates.
func runCheck(ctx context.Context, cfg *config.Config) *checkReport {
	lg := log.New("cli")
	report := &checkReport{Ok: true}
	tap := capture.NewTap()

	if cfg.Primary != "" {
		primary := &targetReport{URI: topo.Redact(cfg.Primary), Enabled: true}
		report.Primary = primary

		err := util.CtxWithTimeout(ctx, cfg.ConnectTimeoutOrDefault(), func(ctx context.Context) error {
			client, err := topo.Connect(ctx, cfg.Primary, topo.WithMonitor(tap.Monitor()))
			if err != nil {
				return err //nolint:wrapcheck
			}

			defer func() {
				err := util.CtxWithTimeout(util.Detached(ctx), config.DisconnectTimeout, client.Disconnect)
				if err != nil {
					lg.Warn("Disconnect: " + err.Error())
				}
			}()

			primary.Version, err = topo.ServerVersion(ctx, client)

			return err //nolint:wrapcheck
		})
		if err != nil {
			primary.Err = err.Error()
			report.Ok = false
		} else {
			primary.Connected = true
		}
	}

	targets := cfg.SecondaryTargets()
	failed := make(map[string]string)

	m := shadow.New(tap, shadow.OptionsFromConfig(cfg))

	err := m.Initialize(ctx, targets)
	if err != nil {
		report.Ok = false

		failure, ok := errors.AsType[*shadow.ConnectionFailure](err)
		if !ok {
			for _, t := range targets {
				failed[t.URI] = err.Error()
			}
		} else {
			for _, ce := range failure.Errors {
				failed[ce.Target.URI] = ce.Cause.Error()
			}
		}
	}

	for _, t := range targets {
		r := targetReport{URI: topo.Redact(t.URI), Enabled: t.Enabled}

		if t.Enabled {
			if msg, ok := failed[t.URI]; ok {
				r.Err = msg
			} else {
				r.Connected = true
			}
		}

		report.Secondaries = append(report.Secondaries, r)
	}

	err = m.Terminate(ctx)
	if err != nil {
		lg.Error(err, "Terminate")
	}

	return report
}

func printJSON(v any) error {
	j := json.NewEncoder(os.Stdout)
	j.SetIndent("", "  ")

	return errors.Wrap(j.Encode(v), "print response")
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output log in JSON format")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "Disable log color")
	rootCmd.PersistentFlags().Int("port", config.DefaultServerPort, "Port number of the status server")

	checkCmd.Flags().String("primary", "", "MongoDB connection string for the primary")
	checkCmd.Flags().StringSlice("secondaries", nil, "MongoDB connection strings for the secondaries")
	checkCmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for each connection attempt (e.g., 15s)")
	checkCmd.Flags().Duration("dispatch-timeout", config.DefaultDispatchTimeout,
		"Timeout for replaying one write on one secondary")
	checkCmd.Flags().Int("dispatch-queue-size", config.DefaultDispatchQueueSize,
		"Number of writes buffered per secondary")
	checkCmd.Flags().Int("dispatch-max-retries", config.DefaultDispatchMaxRetries,
		"Number of attempts for a transient replay failure")
	checkCmd.Flags().String("max-write-size", "",
		"Skip writes larger than the size (e.g., 16MiB). Empty means unlimited")
	checkCmd.Flags().StringSlice("include-namespaces", nil,
		"Namespaces to replicate (e.g. db1.collection1,db2.*)")
	checkCmd.Flags().StringSlice("exclude-namespaces", nil,
		"Namespaces not to replicate (e.g. db3.collection3,db4.*)")

	rootCmd.AddCommand(
		versionCmd,
		statusCmd,
		checkCmd,
	)

	err := rootCmd.Execute()
	if err != nil {
		log.Ctx(context.Background()).Unwrap().Fatal().Err(err).Msg("")
	}
}
