package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"colorgrid/internal/classify"
	"colorgrid/internal/imageload"
	"colorgrid/internal/match"
	"colorgrid/internal/query"
	"colorgrid/internal/store"
	"colorgrid/internal/version"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newIndexCmd(a *app) *cobra.Command {
	var perceptrons map[string]string

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Profile the images of a directory into the store",
		Long: `Profile every image in <dir> that is not yet in the store, using the
rule classifiers plus any --perceptron colors. Images already stored are
left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			palette, err := a.palette(perceptrons)
			if err != nil {
				return err
			}

			backend, s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			for _, color := range s.Colors() {
				if _, ok := palette.Lookup(color); !ok {
					log.Warn().Str("color", color).Msg("Stored color is not in the palette; new images will lack it")
				}
			}

			ids, err := imageload.List(dir, a.cfg.Images.Extensions)
			if err != nil {
				return err
			}
			ix := store.Indexer{
				Store:   s,
				Palette: palette,
				Source:  a.source(dir),
				Workers: a.cfg.Workers,
			}
			stats, err := ix.Index(cmd.Context(), ids)
			if err != nil {
				return err
			}
			if stats.Added > 0 {
				if err := backend.Save(cmd.Context(), s); err != nil {
					return err
				}
			}

			log.Info().
				Int("added", stats.Added).
				Int("present", stats.Present).
				Int("skipped", stats.Skipped).
				Int("total", s.Len()).
				Msg("Index complete")
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, already present %d, skipped %d\n",
				stats.Added, stats.Present, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&perceptrons, "perceptron", nil, "extra color as id=params.json (repeatable)")
	return cmd
}

func newAddColorCmd(a *app) *cobra.Command {
	var (
		paramsPath string
		rule       string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "add-color <color-id>",
		Short: "Extend every stored profile with a new color",
		Long: `Compute <color-id> for every stored image and add it to the store.
Exactly one of --perceptron or --rule selects the classifier. The stored
images are re-read from --dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			colorID := args[0]

			var c classify.Classifier
			switch {
			case paramsPath != "" && rule != "":
				return fmt.Errorf("--perceptron and --rule are mutually exclusive")
			case paramsPath != "":
				params, err := classify.LoadParams(paramsPath)
				if err != nil {
					return err
				}
				n, err := classify.NewPerceptron(params)
				if err != nil {
					return err
				}
				c = n
			case rule != "":
				r, err := classify.ParseRule(rule)
				if err != nil {
					return err
				}
				c = r
			default:
				return fmt.Errorf("one of --perceptron or --rule is required")
			}

			backend, s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := s.AddColor(colorID, c, a.source(dir)); err != nil {
				return err
			}
			if err := backend.Save(cmd.Context(), s); err != nil {
				return err
			}

			log.Info().Str("color", colorID).Int("images", s.Len()).Msg("Color added")
			fmt.Fprintf(cmd.OutOrStdout(), "added color %s to %d images\n", colorID, s.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsPath, "perceptron", "", "perceptron parameters JSON file")
	cmd.Flags().StringVar(&rule, "rule", "", "built-in rule ("+ruleNames()+")")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory holding the stored images")
	return cmd
}

func ruleNames() string {
	names := make([]string, len(classify.Rules))
	for i, r := range classify.Rules {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func newRankCmd(a *app) *cobra.Command {
	var (
		cells  []string
		scores bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank stored images against a canvas",
		Long: `Rank stored images against a canvas given row-major as a comma
separated list of color ids, one per grid cell. Leave a cell empty to
place no constraint on it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			canvas, err := match.NewCanvas(cells, s.SplitDim())
			if err != nil {
				return err
			}
			results, err := match.RankScored(s, canvas)
			if err != nil {
				return err
			}
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}

			out := cmd.OutOrStdout()
			if !scores {
				for _, r := range results {
					fmt.Fprintln(out, r.ID)
				}
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%.4f\n", r.ID, r.Score)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&cells, "canvas", nil, "row-major color ids, one per cell")
	cmd.Flags().BoolVar(&scores, "scores", false, "print scores next to ids")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most n results")
	cmd.MarkFlagRequired("canvas")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query",
		Short: "Answer one JSON request from stdin",
		Long: `Read a JSON request from stdin and write the ranked file names to
stdout as a JSON array. Diagnostics go to stderr; on failure the array is
empty and the exit status is non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := query.Options{
				SplitDim:    a.cfg.Profile.SplitDim,
				Exclusive:   a.cfg.Profile.Exclusive,
				Thumbnail:   a.cfg.Images.Thumbnail,
				Extensions:  a.cfg.Images.Extensions,
				Workers:     a.cfg.Workers,
				StoreDriver: a.cfg.Store.Driver,
			}
			return query.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
