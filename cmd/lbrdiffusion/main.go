package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lbrdiffusion/internal/imageio"
	"lbrdiffusion/internal/logging"
	"lbrdiffusion/pkg/config"
	"lbrdiffusion/pkg/diffusion"
	"lbrdiffusion/pkg/lineardiffusion"
	"lbrdiffusion/pkg/metrics"
	"lbrdiffusion/pkg/raster"
	"lbrdiffusion/pkg/structuretensor"
	"lbrdiffusion/pkg/visualization"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "lbrdiffusion: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command line that is not part of the config file.
type options struct {
	input        string
	output       string
	configPath   string
	writeConfig  string
	linearTensor string
	linearSteps  int
	showMetrics  bool
	enhancement  string
	gradient     string
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg := config.DefaultConfig()
	var opts options

	fs := flag.NewFlagSet("lbrdiffusion", flag.ContinueOnError)
	fs.StringVar(&opts.input, "input", "", "Input image file, or directory of numbered slices for a volume")
	fs.StringVar(&opts.output, "output", "", "Output image file (2D) or directory of slices (3D)")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file; flags override its values")
	fs.StringVar(&opts.writeConfig, "write-config", "", "Write the effective configuration to this file and exit")
	fs.StringVar(&opts.linearTensor, "linear-tensor", "", "Run linear diffusion with this uniform tensor: xx,xy,yy (2D) or xx,xy,xz,yy,yz,zz (3D)")
	fs.IntVar(&opts.linearSteps, "linear-max-steps", lineardiffusion.DefaultMaxSteps, "Max number of time steps of a linear run")
	fs.BoolVar(&opts.showMetrics, "metrics", true, "Print quality metrics comparing input and output")

	fs.IntVar(&cfg.Processing.NumCores, "cores", cfg.Processing.NumCores, "Number of CPU cores to use (default: all available)")
	fs.Float64Var(&cfg.Diffusion.DiffusionTime, "time", cfg.Diffusion.DiffusionTime, "Diffusion time")
	fs.Float64Var(&cfg.Diffusion.Lambda, "lambda", cfg.Diffusion.Lambda, "Contrast threshold")
	fs.StringVar(&opts.enhancement, "enhancement", cfg.Diffusion.Enhancement.String(), "CED, cCED, EED, cEED or Isotropic")
	fs.Float64Var(&cfg.Diffusion.NoiseScale, "noise", cfg.Diffusion.NoiseScale, "Noise scale of the structure tensor")
	fs.Float64Var(&cfg.Diffusion.FeatureScale, "feature", cfg.Diffusion.FeatureScale, "Feature scale of the structure tensor")
	fs.Float64Var(&cfg.Diffusion.Exponent, "exponent", cfg.Diffusion.Exponent, "Exponent of the eigenvalue remap")
	fs.Float64Var(&cfg.Diffusion.Alpha, "alpha", cfg.Diffusion.Alpha, "Floor of the eigenvalue remap, in ]0,1[")
	fs.Float64Var(&cfg.Diffusion.RatioToMaxStableTimeStep, "ratio", cfg.Diffusion.RatioToMaxStableTimeStep, "Ratio to the max stable time step, in ]0,1]")
	fs.IntVar(&cfg.Diffusion.MaxTimeStepsBetweenTensorUpdates, "max-steps", cfg.Diffusion.MaxTimeStepsBetweenTensorUpdates, "Max time steps between tensor updates")
	fs.BoolVar(&cfg.Diffusion.Adimensionize, "adimensionize", cfg.Diffusion.Adimensionize, "Normalize spacing and structure tensor scale")
	fs.StringVar(&opts.gradient, "gradient", cfg.Diffusion.Gradient.String(), "gaussian-derivative or smooth-then-difference")
	fs.Float64Var(&cfg.Input.SliceGap, "gap", cfg.Input.SliceGap, "Inter-slice gap of a slice directory, in pixels")
	fs.BoolVar(&cfg.Input.Grayscale, "gray", cfg.Input.Grayscale, "Convert color input to grayscale")
	fs.BoolVar(&cfg.Output.Verbose, "verbose", cfg.Output.Verbose, "Log every diffusion cycle")
	fs.BoolVar(&cfg.Output.LogJSON, "log-json", cfg.Output.LogJSON, "Log as JSON")
	fs.StringVar(&cfg.Output.SlicesAxis, "axis", cfg.Output.SlicesAxis, "Axis along which volume slices are written")
	fs.StringVar(&cfg.Output.Format, "format", cfg.Output.Format, "Format of volume slices: png, jpg, tif or bmp")
	fs.SetOutput(stdout)

	if err := fs.Parse(args); err != nil {
		return err
	}

	// The config file is the base; flags given explicitly win over it
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		explicit := *cfg
		*cfg = *loaded
		fs.Visit(func(f *flag.Flag) { override(cfg, &explicit, f.Name) })
	}
	if err := applyEnums(fs, cfg, &opts); err != nil {
		return err
	}

	if opts.writeConfig != "" {
		if err := config.SaveConfig(cfg, opts.writeConfig); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Configuration written to %s\n", opts.writeConfig)
		return nil
	}
	if opts.input == "" || opts.output == "" {
		fs.Usage()
		return errors.New("both -input and -output are required")
	}

	log := logging.New(logging.Options{JSON: cfg.Output.LogJSON, Level: logging.Level(cfg.Output.Verbose)})

	img, err := load(opts.input, cfg)
	if err != nil {
		return err
	}
	log.Info().Ints("size", img.Size).Floats64("spacing", img.Spacing).Int("channels", img.Channels).Msg("input loaded")

	startTime := time.Now()
	var out *raster.Image
	if opts.linearTensor != "" {
		out, err = runLinear(img, cfg, &opts, log, stdout)
	} else {
		out, err = runNonlinear(ctx, img, cfg, log, stdout)
	}
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	written, err := save(out, opts.output, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\nDiffusion completed in %.2f seconds using %d cores\n", processingTime.Seconds(), cfg.Processing.NumCores)
	fmt.Fprintf(stdout, "Output saved to: %s (%d file(s))\n", opts.output, written)

	if opts.showMetrics {
		m := metrics.Compare(img, out)
		fmt.Fprintf(stdout, "\nQuality Metrics:\n")
		fmt.Fprintf(stdout, "================\n")
		fmt.Fprintf(stdout, "Root Mean Square Error (RMSE): %.6f\n", m.RMSE)
		fmt.Fprintf(stdout, "Structural Similarity Index (SSIM): %.3f\n", m.SSIM)
		fmt.Fprintf(stdout, "Entropy Difference: %.3f\n", m.EntropyDiff)
		fmt.Fprintf(stdout, "Edge Preservation: %.3f\n", m.EdgePreservation)
		fmt.Fprintf(stdout, "Input range: [%.4f, %.4f]\n", m.Input.Min, m.Input.Max)
		fmt.Fprintf(stdout, "Output range: [%.4f, %.4f]\n", m.Output.Min, m.Output.Max)
	}
	return nil
}

// override copies the flag named name from src into dst.
func override(dst, src *config.Config, name string) {
	switch name {
	case "cores":
		dst.Processing.NumCores = src.Processing.NumCores
	case "time":
		dst.Diffusion.DiffusionTime = src.Diffusion.DiffusionTime
	case "lambda":
		dst.Diffusion.Lambda = src.Diffusion.Lambda
	case "noise":
		dst.Diffusion.NoiseScale = src.Diffusion.NoiseScale
	case "feature":
		dst.Diffusion.FeatureScale = src.Diffusion.FeatureScale
	case "exponent":
		dst.Diffusion.Exponent = src.Diffusion.Exponent
	case "alpha":
		dst.Diffusion.Alpha = src.Diffusion.Alpha
	case "ratio":
		dst.Diffusion.RatioToMaxStableTimeStep = src.Diffusion.RatioToMaxStableTimeStep
	case "max-steps":
		dst.Diffusion.MaxTimeStepsBetweenTensorUpdates = src.Diffusion.MaxTimeStepsBetweenTensorUpdates
	case "adimensionize":
		dst.Diffusion.Adimensionize = src.Diffusion.Adimensionize
	case "gap":
		dst.Input.SliceGap = src.Input.SliceGap
	case "gray":
		dst.Input.Grayscale = src.Input.Grayscale
	case "verbose":
		dst.Output.Verbose = src.Output.Verbose
	case "log-json":
		dst.Output.LogJSON = src.Output.LogJSON
	case "axis":
		dst.Output.SlicesAxis = src.Output.SlicesAxis
	case "format":
		dst.Output.Format = src.Output.Format
	}
}

// applyEnums parses the enhancement and gradient flags when given explicitly
// or when no config file supplied them.
func applyEnums(fs *flag.FlagSet, cfg *config.Config, opts *options) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["enhancement"] || opts.configPath == "" {
		mode, err := diffusion.ParseEnhancement(opts.enhancement)
		if err != nil {
			return err
		}
		cfg.Diffusion.Enhancement = mode
	}
	if set["gradient"] || opts.configPath == "" {
		mode, err := structuretensor.ParseGradientMode(opts.gradient)
		if err != nil {
			return err
		}
		cfg.Diffusion.Gradient = mode
	}
	return nil
}

func load(input string, cfg *config.Config) (*raster.Image, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		vol, _, err := imageio.LoadStack(input, cfg.Input.SliceGap, cfg.Input.Grayscale)
		return vol, err
	}
	return imageio.Load(input, cfg.Input.Grayscale)
}

func save(img *raster.Image, output string, cfg *config.Config) (int, error) {
	viewer := visualization.NewViewer(img)
	if img.Dim() == 3 {
		return viewer.SaveSliceSequence(cfg.Output.SlicesAxis, output, cfg.Output.Format)
	}
	rendered, err := viewer.Image()
	if err != nil {
		return 0, err
	}
	if err := imageio.Save(output, rendered); err != nil {
		return 0, err
	}
	return 1, nil
}

func runNonlinear(ctx context.Context, img *raster.Image, cfg *config.Config, log zerolog.Logger, stdout io.Writer) (*raster.Image, error) {
	dcfg := cfg.DiffusionConfig()
	fmt.Fprintf(stdout, "Starting %s diffusion for time %g...\n", dcfg.Enhancement, dcfg.DiffusionTime)

	res, err := diffusion.Run(ctx, img, dcfg,
		diffusion.WithLogger(log),
		diffusion.WithProgress(func(f float64) {
			log.Debug().Float64("fraction", f).Msg("progress")
		}))
	if err != nil {
		if res != nil && errors.Is(err, ctx.Err()) {
			fmt.Fprintf(stdout, "Interrupted with %g of %g remaining\n", res.RemainingTime, res.RequestedTime)
		}
		return nil, err
	}

	steps := 0
	nonConverged := 0
	for _, c := range res.Cycles {
		steps += c.EffectiveSteps
		nonConverged += c.NonConverged
	}
	fmt.Fprintf(stdout, "%d tensor updates, %d time steps\n", len(res.Cycles), steps)
	if nonConverged > 0 {
		fmt.Fprintf(stdout, "Warning: %d stencil reductions did not converge\n", nonConverged)
	}
	return res.Image, nil
}

func runLinear(img *raster.Image, cfg *config.Config, opts *options, log zerolog.Logger, stdout io.Writer) (*raster.Image, error) {
	tensor, err := parseTensor(opts.linearTensor, img.Dim())
	if err != nil {
		return nil, err
	}
	tf, err := raster.NewTensorField(img.Size, img.Spacing)
	if err != nil {
		return nil, err
	}
	tf.Fill(tensor)

	fmt.Fprintf(stdout, "Starting linear diffusion for time %g...\n", cfg.Diffusion.DiffusionTime)
	res, err := diffusion.Linear(img, tf, cfg.Diffusion.DiffusionTime, opts.linearSteps, cfg.Diffusion.RatioToMaxStableTimeStep,
		diffusion.WithLogger(log),
		diffusion.WithWorkers(cfg.Processing.NumCores))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(stdout, "%d time steps of %g, effective time %g\n", res.EffectiveSteps, res.TimeStep, res.EffectiveTime)
	if res.UnderShoot() {
		fmt.Fprintf(stdout, "Warning: step budget reached; raise -linear-max-steps to reach time %g\n", res.RequestedTime)
	}
	return res.Image, nil
}

// parseTensor reads the upper triangle of a symmetric tensor, row by row.
func parseTensor(s string, d int) (raster.SymTensor, error) {
	fields := strings.Split(s, ",")
	want := raster.ComponentCount(d)
	if len(fields) != want {
		return nil, fmt.Errorf("tensor %q: %d components for a %dD image, want %d", s, len(fields), d, want)
	}
	t := raster.NewSymTensor(d)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", s, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("tensor %q: component %d is not finite", s, i)
		}
		t[i] = v
	}
	return t, nil
}
