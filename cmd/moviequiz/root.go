package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"moviequiz/pkg/cache"
	"moviequiz/pkg/config"
	"moviequiz/pkg/db"
	"moviequiz/pkg/db/maintenance"
	"moviequiz/pkg/logging"
	"moviequiz/pkg/pipeline"
	"moviequiz/pkg/request"
	"moviequiz/pkg/store"
	"moviequiz/pkg/tracker"
	"moviequiz/pkg/translate"
	"moviequiz/pkg/translate/backend"
	"moviequiz/pkg/version"
	"moviequiz/pkg/wikidata"
)

const defaultConfigPath = "configs/moviequiz.yaml"

type commandContext struct {
	configPath string
	envPath    string
	trace      bool

	app *app
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	db      *db.DB
	store   *store.SQLiteStore
	tracker *tracker.Tracker
	rc      *request.Client
	wd      *wikidata.Client

	closeLogs func()
}

// execute runs the command line in args and releases everything it opened.
func execute(ctx context.Context, args []string, out io.Writer) error {
	cc := &commandContext{}
	defer cc.close()

	cmd := newRootCommand(cc)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cc *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "moviequiz",
		Short:         "Builds the MovieQuiz movie database from Wikidata",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations:   map[string]string{"skipApp": "true"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsApp(cmd) {
				return nil
			}
			return cc.open(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", defaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&cc.envPath, "env", ".env", "Environment file with API keys")
	rootCmd.PersistentFlags().BoolVar(&cc.trace, "trace", false, "Log every claim and label lookup at DEBUG")

	rootCmd.AddCommand(newInitConfigCommand(cc))
	rootCmd.AddCommand(newDiscoverCommand(cc))
	rootCmd.AddCommand(newDetailsCommand(cc))
	rootCmd.AddCommand(newTranslateCommand(cc))
	rootCmd.AddCommand(newRunCommand(cc))
	rootCmd.AddCommand(newRescoreCommand(cc))
	rootCmd.AddCommand(newStatusCommand(cc))
	rootCmd.AddCommand(newFetchCommand(cc))
	rootCmd.AddCommand(newCheckCommand(cc))

	return rootCmd
}

func needsApp(cmd *cobra.Command) bool {
	if cmd.Annotations["skipApp"] == "true" {
		return false
	}
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "help" || c.Name() == "completion" {
			return false
		}
	}
	return true
}

// open loads .env, configuration and logging, then opens the store and clients.
func (c *commandContext) open(ctx context.Context) error {
	if path := strings.TrimSpace(c.envPath); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	closeLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.EnableTrace = c.trace
	slog.Info("MovieQuiz started", "version", version.Version, "config", c.configPath)

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		closeLogs()
		return fmt.Errorf("failed to open database: %w", err)
	}
	maintenance.Run(ctx, dbConn, cfg.DB.CacheTTL.Std())

	tr := tracker.New()
	rc := request.New(cache.NewSQLiteCache(dbConn), tr, cfg.Request)

	c.app = &app{
		cfg:       cfg,
		db:        dbConn,
		store:     store.NewSQLiteStore(dbConn),
		tracker:   tr,
		rc:        rc,
		wd:        wikidata.NewClient(rc, cfg.Wikidata, slog.Default()),
		closeLogs: closeLogs,
	}
	return nil
}

func (c *commandContext) close() {
	if c.app == nil {
		return
	}
	if err := c.app.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
	c.app.closeLogs()
	c.app = nil
}

// newProvider builds the configured translation backend.
func (a *app) newProvider(ctx context.Context) (translate.Provider, error) {
	return backend.New(ctx, a.cfg.Translation, a.cfg.Request, a.rc, slog.Default())
}

func (a *app) pipeline() *pipeline.Pipeline {
	return pipeline.New(a.wd, a.store, a.newProvider, a.cfg, slog.Default())
}
