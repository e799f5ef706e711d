package cmd

import (
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/auth"
	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/core"
	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/journal"
	"github.com/saturnines/vacsync/pkg/logging"
	"github.com/saturnines/vacsync/pkg/store"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

func runTasks(cmd *cobra.Command, v *viper.Viper, opts *options) error {
	if strings.TrimSpace(opts.tasks) == "" {
		return fmt.Errorf("no tasks given (use --tasks, see \"vacsync tasks\")")
	}

	log, err := logging.New(opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(v, opts.configFile)
	if err != nil {
		return err
	}

	catalog, err := config.NewDefaultCatalogLoader().Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	selected, unknown := core.SelectTasks(catalog, opts.tasks)
	for _, name := range unknown {
		fmt.Fprintf(cmd.ErrOrStderr(), "unknown task %q\n", name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncer, closeJournal, err := newSyncer(cfg, catalog, log)
	if err != nil {
		return err
	}
	defer closeJournal()

	if opts.sinceLast && cfg.JournalPath == "" {
		log.Warn("--since-last without a journal exports everything")
	}

	outcomes, err := syncer.Run(ctx, selected, core.RunOptions{Parameter: opts.parameter, SinceLast: opts.sinceLast})
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	log.Info("run finished",
		zap.Int("tasks", len(outcomes)),
		zap.Int("failed", failed),
		zap.Strings("unknown", unknown),
	)

	if err != nil {
		if errors.Is(err, errors.ErrUnrecognizedShape) {
			return &ExitError{Code: ExitCodeUnrecognizedShape, Err: err}
		}
		return err
	}
	if len(unknown) > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("unknown tasks: %s", strings.Join(unknown, ", "))}
	}
	return nil
}

// newSyncer wires the token cache, the authenticated client, the store and
// the optional journal. The returned func closes the journal.
func newSyncer(cfg *config.Config, catalog *config.Catalog, log *zap.Logger) (*core.Syncer, func(), error) {
	tokenOpts := []auth.TokenCacheOption{
		auth.WithLogger(log),
		auth.WithRefreshBefore(cfg.TokenRefreshBefore),
	}
	if cfg.RequestTimeout > 0 {
		tokenOpts = append(tokenOpts, auth.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	}
	tokens, err := auth.NewTokenCache(cfg.TokenURL(), cfg.ClientID, cfg.Secret, cfg.Username, cfg.Password, tokenOpts...)
	if err != nil {
		return nil, nil, err
	}

	client := rest.NewClient(cfg.BaseURL,
		rest.WithHTTPClient(&http.Client{Transport: auth.NewTransport(nil, tokens)}),
		rest.WithTimeout(cfg.RequestTimeout),
		rest.WithLogger(log),
	)

	st, err := store.New(cfg.ExportPath, cfg.LoadTimeout)
	if err != nil {
		return nil, nil, err
	}

	syncOpts := []core.Option{
		core.WithPatchLimit(cfg.PatchLimit),
		core.WithPromiseLimit(cfg.PromiseLimit),
		core.WithChunkSize(cfg.ChunkSize),
		core.WithLogger(log),
	}

	closeJournal := func() {}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		syncOpts = append(syncOpts, core.WithJournal(j))
		closeJournal = func() {
			if err := j.Close(); err != nil {
				log.Warn("closing journal", zap.Error(err))
			}
		}
	}

	return core.NewSyncer(catalog, client, st, syncOpts...), closeJournal, nil
}
