package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mpilhlt/pe-platform-classes/internal/bolt"
	"github.com/mpilhlt/pe-platform-classes/internal/classifier"
	"github.com/mpilhlt/pe-platform-classes/internal/database"
	"github.com/mpilhlt/pe-platform-classes/internal/logging"
	"github.com/mpilhlt/pe-platform-classes/internal/models"
	"github.com/mpilhlt/pe-platform-classes/internal/puppet"
	"github.com/mpilhlt/pe-platform-classes/internal/task"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// historyTimeout bounds the time spent recording a run.
const historyTimeout = 10 * time.Second

func main() {
	// A .env file is optional, SERVICE_* variables may also come from the environment.
	_ = godotenv.Load()

	// Create a CLI app. When passed no commands, it runs the task once.
	cli := humacli.New(func(hooks humacli.Hooks, options *models.Options) {
		hooks.OnStart(func() {
			log, closer := logging.New(options)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			params, err := bolt.ReadParams(os.Stdin, os.Getenv)
			if err != nil {
				log.WithError(err).Error("Unable to read task parameters")
				_ = bolt.WriteError(os.Stdout, err)
				os.Exit(bolt.ExitFailure)
			}

			if code := run(ctx, options, params, os.Stdout, log); code != 0 {
				stop()
				closer.Close()
				os.Exit(code)
			}
		})
	})

	cli.Root().Use = "pe-platform-classes"
	cli.Root().Short = "Remove pe_repo platform classes from the PE Master node group"

	cli.Root().AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Print the most recent recorded task runs as JSON",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, options *models.Options) {
			if err := printHistory(cmd.Context(), options, cmd.OutOrStdout()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "    Unable to read history: %v\n", err)
				os.Exit(1)
			}
		}),
	})

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create, upgrade or roll back the history database schema",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, options *models.Options) {
			to, _ := cmd.Flags().GetInt32("to")
			if err := migrateSchema(cmd.Context(), options, to, cmd.OutOrStdout()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "    Unable to migrate database: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	migrateCmd.Flags().Int32("to", database.LatestVersion, "Schema version to migrate to, 0 drops the history (default: latest)")
	cli.Root().AddCommand(migrateCmd)

	cli.Run()
}

// run executes the task once, writes the result (or the error) to stdout and
// returns the exit status.
func run(ctx context.Context, options *models.Options, params models.TaskParams, stdout io.Writer, log logrus.FieldLogger) int {
	settings, result, err := removeClasses(ctx, options, params, log)

	if options.History {
		recordRun(ctx, options, settings.Certname, params.Noop, result, err, log)
	}

	if err != nil {
		log.WithError(err).WithField("kind", models.KindOf(err).String()).Error("Task failed")
		if werr := bolt.WriteError(stdout, err); werr != nil {
			log.WithError(werr).Error("Unable to write task error")
		}
		return bolt.ExitFailure
	}
	if werr := bolt.WriteResult(stdout, result); werr != nil {
		log.WithError(werr).Error("Unable to write task result")
		return bolt.ExitFailure
	}
	return 0
}

func removeClasses(ctx context.Context, options *models.Options, params models.TaskParams, log logrus.FieldLogger) (puppet.Settings, *models.TaskResult, error) {
	settings, err := puppet.Resolve(options)
	if err != nil {
		return settings, nil, models.NewTaskError(models.KindTransport, err, "unable to resolve Puppet settings")
	}
	log = log.WithField("certname", settings.Certname)

	cfg := classifier.NewConfig(options, settings)
	cfg.Logger = log
	client, err := classifier.New(cfg)
	if err != nil {
		return settings, nil, err
	}
	log.WithField("classifier", client.BaseURL()).Debug("Connecting to classifier")

	remover := task.New(client, options, log)
	remover.Noop = params.Noop
	result, err := remover.Run(ctx)
	return settings, result, err
}

// recordRun stores the outcome in the history database. Failures are logged
// and never change the task result.
func recordRun(ctx context.Context, options *models.Options, certname string, noop bool, result *models.TaskResult, taskErr error, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	pool, err := database.InitDB(ctx, options)
	if err != nil {
		log.WithError(err).Warn("Unable to record run")
		return
	}
	defer pool.Close()

	group := options.Group
	if group == "" {
		group = models.DefaultGroup
	}
	run, err := database.New(pool).InsertRun(ctx, database.NewRunParams(certname, group, noop, result, taskErr))
	if err != nil {
		log.WithError(err).Warn("Unable to record run")
		return
	}
	log.WithField("run_id", run.RunID.String()).Debug("Recorded run")
}

// migrateSchema moves the history schema to version and prints the result.
func migrateSchema(ctx context.Context, options *models.Options, version int32, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	status, err := database.MigrateSchema(ctx, database.ConnString(options), version)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "=== History schema at %s", status)
	return err
}

// historyLimit is the number of runs printed by the history command.
const historyLimit = 20

func printHistory(ctx context.Context, options *models.Options, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := database.InitDB(ctx, options)
	if err != nil {
		return err
	}
	defer pool.Close()

	runs, err := database.New(pool).GetRecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
