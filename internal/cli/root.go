// Package cli wires the colorgrid commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"colorgrid/internal/classify"
	"colorgrid/internal/config"
	"colorgrid/internal/imageload"
	"colorgrid/internal/store"
	"colorgrid/internal/version"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app holds state shared by all commands of one invocation.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "colorgrid",
		Short: "Find images by where their colors sit",
		Long: `colorgrid profiles images on an N×N grid of color scores and ranks
them against a target layout of one color per cell.

Profiles are kept in a store so that new images and new colors can be
added without recomputing what is already there.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newIndexCmd(a),
		newAddColorCmd(a),
		newRankCmd(a),
		newQueryCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		return err
	}
	return nil
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	setupLogger(cfg.Development(), level)
	a.cfg = cfg

	log.Debug().
		Str("driver", cfg.Store.Driver).
		Str("store", cfg.Store.Path).
		Int("split_dim", cfg.Profile.SplitDim).
		Msg("Configuration loaded")
	return nil
}

func setupLogger(development bool, level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	if development {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// openStore opens the configured backend and loads its store.
func (a *app) openStore(ctx context.Context) (store.Backend, *store.Store, error) {
	backend, err := store.Open(a.cfg.Store.Driver, a.cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	s, err := backend.Load(ctx, a.cfg.Profile.SplitDim)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return backend, s, nil
}

func (a *app) source(dir string) imageload.DirSource {
	return imageload.DirSource{Dir: dir, Thumbnail: a.cfg.Images.Thumbnail}
}

// palette returns the rule palette followed by the given perceptrons in
// color id order.
func (a *app) palette(perceptrons map[string]string) (*classify.Palette, error) {
	p := classify.DefaultRules()
	p.SetExclusive(a.cfg.Profile.Exclusive)
	// Sorted so exclusive ties resolve the same way on every run.
	ids := make([]string, 0, len(perceptrons))
	for id := range perceptrons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		path := perceptrons[id]
		params, err := classify.LoadParams(path)
		if err != nil {
			return nil, err
		}
		n, err := classify.NewPerceptron(params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := p.Add(id, n); err != nil {
			return nil, err
		}
	}
	return p, nil
}
