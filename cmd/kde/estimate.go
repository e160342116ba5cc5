package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/TrevorS/kde"
)

type estimateOptions struct {
	reference  string
	query      string
	configPath string
	output     string
	header     bool
	progress   bool
}

func newEstimateCmd() *cobra.Command {
	var (
		opts  estimateOptions
		flags = defaultFileConfig()
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the density at every query point",
		Long: `estimate reads reference and query points from CSV files (one point per
row) and writes one density per query point. Without --query, every
reference point is estimated against the others.

Settings are read from --config first; flags given on the command line
override the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runEstimate(opts, fc)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.reference, "reference", "r", "", "reference points CSV (required)")
	fs.StringVarP(&opts.query, "query", "q", "", "query points CSV (default: leave-one-out over the reference set)")
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	fs.StringVarP(&opts.output, "output", "o", "-", "densities output file")
	fs.BoolVar(&opts.header, "header", false, "skip the first row of each CSV file")
	fs.BoolVar(&opts.progress, "progress", false, "show a progress bar (single and best_first modes)")
	bindFlags(fs, &flags)
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func runEstimate(opts estimateOptions, fc fileConfig) error {
	cfg, err := fc.toConfig()
	if err != nil {
		return err
	}

	reference, err := loadPoints(opts.reference, opts.header)
	if err != nil {
		return err
	}
	var query [][]float64
	if opts.query != "" {
		if query, err = loadPoints(opts.query, opts.header); err != nil {
			return err
		}
	}

	nQuery := len(reference)
	if query != nil {
		nQuery = len(query)
	}
	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = progressbar.Default(int64(nQuery))
		cfg.Progress = func(n int) { _ = bar.Add(n) }
	}

	start := time.Now()
	var res *kde.Result
	if query == nil {
		res, err = kde.EstimateMonochromatic(reference, cfg)
	} else {
		res, err = kde.Estimate(reference, query, cfg)
	}
	if err != nil {
		return fmt.Errorf("estimate: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	log.Info().
		Int("references", len(reference)).
		Int("queries", nQuery).
		Str("algorithm", string(res.Algorithm)).
		Str("mode", string(res.Mode)).
		Int("base_cases", res.BaseCases).
		Int("prunes", res.Prunes).
		Int("mc_prunes", res.MonteCarloPrunes).
		Dur("elapsed", time.Since(start)).
		Msg("Estimation finished")

	return saveDensities(opts.output, res.Densities)
}
