package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/oifits/internal/config"
	"github.com/pithecene-io/oifits/oifits"
	s3store "github.com/pithecene-io/oifits/oifits/s3"
)

// app carries the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	backend    string
	root       string
	compressor string
	logLevel   string

	cfg     config.Config
	log     *slog.Logger
	archive *oifits.Archive

	// memory and s3 are injected by tests
	memory oifits.StoreFactory
	s3     s3store.API
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "oifits",
		Short:         "Fuse OIFITS interferometric data across files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.backend, "backend", "", "archive store backend: fs, memory or s3")
	pf.StringVar(&a.root, "root", "", "archive root directory of the fs backend")
	pf.StringVar(&a.compressor, "compressor", "", "archive compressor: noop, gzip or zstd")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(
		a.listCmd(),
		a.baselinesCmd(),
		a.dumpCmd(),
		a.mergeCmd(),
		a.convertCmd(),
		a.exportCmd(),
	)
	return cmd
}

// setup loads the configuration, applies flag overrides and opens the
// archive.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Store.Backend = a.backend
	}
	if flags.Changed("root") {
		cfg.Store.Root = a.root
	}
	if flags.Changed("compressor") {
		cfg.Store.Compressor = a.compressor
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.log, err = cfg.Log.NewLogger(a.stderr); err != nil {
		return err
	}

	factory, err := a.storeFactory(cmd.Context())
	if err != nil {
		return err
	}
	comp, err := oifits.NewCompressor(cfg.Store.Compressor)
	if err != nil {
		return err
	}
	a.archive, err = oifits.NewArchive(factory,
		oifits.WithCompressor(comp),
		oifits.WithArchiveLogger(a.log))
	return err
}

func (a *app) storeFactory(ctx context.Context) (oifits.StoreFactory, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		if a.memory == nil {
			a.memory = oifits.NewMemoryFactory()
		}
		return a.memory, nil
	case config.BackendS3:
		s3cfg := a.cfg.Store.S3
		client := a.s3
		if client == nil {
			c, err := s3store.NewClient(ctx, s3store.ClientConfig{
				Region:       s3cfg.Region,
				Endpoint:     s3cfg.Endpoint,
				UsePathStyle: s3cfg.UsePathStyle,
			})
			if err != nil {
				return nil, fmt.Errorf("s3 client: %w", err)
			}
			client = c
		}
		return s3store.Factory(client, s3store.Config{Bucket: s3cfg.Bucket, Prefix: s3cfg.Prefix}), nil
	default:
		return oifits.NewFSFactory(a.cfg.Store.Root), nil
	}
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}
