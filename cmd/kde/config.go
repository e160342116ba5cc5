package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/TrevorS/kde"
)

// fileConfig is the YAML form of an estimation run. Flags use the same
// fields, so a flag given on the command line overrides the file.
type fileConfig struct {
	Kernel            string  `yaml:"kernel"`
	Bandwidth         float64 `yaml:"bandwidth"`
	Metric            string  `yaml:"metric"`
	P                 float64 `yaml:"p"`
	RelError          float64 `yaml:"rel_error"`
	AbsError          float64 `yaml:"abs_error"`
	MonteCarlo        bool    `yaml:"monte_carlo"`
	MCProb            float64 `yaml:"mc_prob"`
	InitialSampleSize int     `yaml:"initial_sample_size"`
	Tree              string  `yaml:"tree"`
	Mode              string  `yaml:"mode"`
	LeafSize          int     `yaml:"leaf_size"`
	Workers           int     `yaml:"workers"`
	Normalize         bool    `yaml:"normalize"`
	Seed              uint64  `yaml:"seed"`
}

func defaultFileConfig() fileConfig {
	d := kde.DefaultConfig()
	return fileConfig{
		Kernel:            "gaussian",
		Bandwidth:         1,
		Metric:            "euclidean",
		P:                 2,
		RelError:          d.RelError,
		AbsError:          d.AbsError,
		MCProb:            d.MCProb,
		InitialSampleSize: d.InitialSampleSize,
		Tree:              string(d.Algorithm),
		Mode:              string(d.Mode),
		LeafSize:          d.LeafSize,
	}
}

// bindFlags registers one flag per field of fc.
func bindFlags(fs *pflag.FlagSet, fc *fileConfig) {
	fs.StringVar(&fc.Kernel, "kernel", fc.Kernel, "kernel name (see 'kde kernels')")
	fs.Float64Var(&fc.Bandwidth, "bandwidth", fc.Bandwidth, "kernel bandwidth")
	fs.StringVar(&fc.Metric, "metric", fc.Metric, "distance metric: euclidean, manhattan, chebyshev, minkowski, cosine")
	fs.Float64Var(&fc.P, "p", fc.P, "Minkowski exponent")
	fs.Float64Var(&fc.RelError, "rel-error", fc.RelError, "relative error tolerance")
	fs.Float64Var(&fc.AbsError, "abs-error", fc.AbsError, "absolute error tolerance")
	fs.BoolVar(&fc.MonteCarlo, "monte-carlo", fc.MonteCarlo, "sample large nodes when bounds are loose")
	fs.Float64Var(&fc.MCProb, "mc-prob", fc.MCProb, "probability that sampled nodes meet the relative error")
	fs.IntVar(&fc.InitialSampleSize, "initial-sample-size", fc.InitialSampleSize, "first Monte Carlo sample size")
	fs.StringVar(&fc.Tree, "tree", fc.Tree, "auto, brute, kdtree or balltree")
	fs.StringVar(&fc.Mode, "mode", fc.Mode, "dual, single or best_first")
	fs.IntVar(&fc.LeafSize, "leaf-size", fc.LeafSize, "maximum points per tree leaf")
	fs.IntVar(&fc.Workers, "workers", fc.Workers, "goroutines for brute force and single-tree modes (0 = all CPUs)")
	fs.BoolVar(&fc.Normalize, "normalize", fc.Normalize, "output probability densities instead of kernel sums")
	fs.Uint64Var(&fc.Seed, "seed", fc.Seed, "Monte Carlo seed (0 = random)")
}

// loadConfig returns the defaults, overlaid with the YAML file at path (if
// any), overlaid with every flag set on the command line.
func loadConfig(path string, fs *pflag.FlagSet) (fileConfig, error) {
	fc := defaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fc, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fc, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Re-bind onto a scratch set so the changed flags can be copied by name.
	scratch := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	bindFlags(scratch, &fc)
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil || scratch.Lookup(f.Name) == nil {
			return
		}
		err = scratch.Set(f.Name, f.Value.String())
	})
	return fc, err
}

// toConfig converts the file form into a library Config.
func (fc fileConfig) toConfig() (kde.Config, error) {
	cfg := kde.DefaultConfig()
	kernel, err := kde.NewKernel(fc.Kernel, fc.Bandwidth)
	if err != nil {
		return cfg, err
	}
	metric, err := kde.MetricByName(fc.Metric, fc.P)
	if err != nil {
		return cfg, err
	}
	cfg.Kernel = kernel
	cfg.Metric = metric
	cfg.RelError = fc.RelError
	cfg.AbsError = fc.AbsError
	cfg.MonteCarlo = fc.MonteCarlo
	cfg.MCProb = fc.MCProb
	cfg.InitialSampleSize = fc.InitialSampleSize
	cfg.Algorithm = kde.Algorithm(fc.Tree)
	cfg.Mode = kde.TraversalMode(fc.Mode)
	cfg.LeafSize = fc.LeafSize
	cfg.Workers = fc.Workers
	cfg.Normalize = fc.Normalize
	cfg.Seed = fc.Seed
	return cfg, nil
}
