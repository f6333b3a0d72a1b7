package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/MeKo-Tech/spectralnoise/internal/encode"
	"github.com/MeKo-Tech/spectralnoise/internal/library"
	"github.com/MeKo-Tech/spectralnoise/internal/noise"
	"github.com/MeKo-Tech/spectralnoise/internal/pipeline"
	"github.com/MeKo-Tech/spectralnoise/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate noise textures",
	Long: `Generate one or more noise textures of the given color.

With --count greater than one, independent variants are generated in parallel
and written as {key}.{ext} files, or stored in a texture library with --library.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	// Texture flags
	generateCmd.Flags().StringP("color", "c", "red", "Noise color: white, red, blue, green or purple")
	generateCmd.Flags().Int("width", 256, "Texture width in pixels")
	generateCmd.Flags().Int("height", 256, "Texture height in pixels")
	generateCmd.Flags().IntP("iterations", "i", 5, "Shaping rounds (0 returns the unshaped field)")
	generateCmd.Flags().Float32("sigma", 1.0, "Blur sigma for red and blue noise")
	generateCmd.Flags().Float32("low-sigma", 1.0, "Narrow blur sigma for green and purple noise")
	generateCmd.Flags().Float32("high-sigma", 2.0, "Wide blur sigma for green and purple noise")

	// Batch generation flags
	generateCmd.Flags().IntP("count", "n", 1, "Number of independent variants to generate")
	generateCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	generateCmd.Flags().Bool("progress", true, "Show progress bar during batch generation")
	generateCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some textures fail")

	// Output flags
	generateCmd.Flags().Bool("force", false, "Overwrite textures that already exist")
	generateCmd.Flags().String("format", "png", "Image format: png, tiff or bmp")
	generateCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")
	generateCmd.Flags().String("library", "", "Store textures in this SQLite library instead of --output-dir")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"generate.color", "color"},
		{"generate.width", "width"},
		{"generate.height", "height"},
		{"generate.iterations", "iterations"},
		{"generate.sigma", "sigma"},
		{"generate.low_sigma", "low-sigma"},
		{"generate.high_sigma", "high-sigma"},
		{"generate.count", "count"},
		{"generate.workers", "workers"},
		{"generate.progress", "progress"},
		{"generate.allow_failures", "allow-failures"},
		{"generate.force", "force"},
		{"generate.format", "format"},
		{"generate.png_compression", "png-compression"},
		{"generate.library", "library"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, generateCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

// generateOptions is the resolved configuration of one generate run.
type generateOptions struct {
	params         noise.Params
	count          int
	workers        int
	showProgress   bool
	allowFailures  bool
	force          bool
	strictBands    bool
	blur           noise.Blurrer
	format         encode.Format
	pngCompression string
	outputDir      string
	libraryPath    string
}

func loadGenerateOptions() (generateOptions, error) {
	color, err := noise.ParseColor(viper.GetString("generate.color"))
	if err != nil {
		return generateOptions{}, err
	}
	format, err := encode.ParseFormat(viper.GetString("generate.format"))
	if err != nil {
		return generateOptions{}, err
	}
	blur, err := noise.ParseBlurrer(viper.GetString("blur"))
	if err != nil {
		return generateOptions{}, err
	}

	opts := generateOptions{
		params: noise.Params{
			Color:      color,
			Width:      viper.GetInt("generate.width"),
			Height:     viper.GetInt("generate.height"),
			Iterations: viper.GetInt("generate.iterations"),
			Sigma:      float32(viper.GetFloat64("generate.sigma")),
			LowSigma:   float32(viper.GetFloat64("generate.low_sigma")),
			HighSigma:  float32(viper.GetFloat64("generate.high_sigma")),
		},
		count:          viper.GetInt("generate.count"),
		workers:        viper.GetInt("generate.workers"),
		showProgress:   viper.GetBool("generate.progress"),
		allowFailures:  viper.GetBool("generate.allow_failures"),
		force:          viper.GetBool("generate.force"),
		strictBands:    viper.GetBool("strict-bands"),
		blur:           blur,
		format:         format,
		pngCompression: viper.GetString("generate.png_compression"),
		outputDir:      viper.GetString("output-dir"),
		libraryPath:    viper.GetString("generate.library"),
	}

	if opts.count < 1 {
		return generateOptions{}, fmt.Errorf("--count must be at least 1, got %d", opts.count)
	}
	if opts.workers <= 0 {
		opts.workers = runtime.NumCPU()
	}
	if err := opts.params.Validate(opts.strictBands); err != nil {
		return generateOptions{}, err
	}
	return opts, nil
}

func runGenerate(cmd *cobra.Command, args []string) (err error) {
	if logger == nil {
		initLogging()
	}

	opts, err := loadGenerateOptions()
	if err != nil {
		return err
	}

	gen := newGenerator(opts.strictBands, opts.blur)

	var store *library.Writer
	if opts.libraryPath != "" {
		store, err = library.New(opts.libraryPath, library.Metadata{
			Name:        "spectralnoise",
			Description: "Spectral noise textures",
			Version:     "1.0",
			Generator:   rootCmd.Name(),
		})
		if err != nil {
			return fmt.Errorf("failed to open library: %w", err)
		}
		defer closeWith(&err, store, "library")
	}

	renderOpts := pipeline.Options{Format: opts.format, PNGCompression: opts.pngCompression}
	if store != nil {
		renderOpts.Writer = store
	}
	renderer, err := pipeline.NewRenderer(gen, opts.outputDir, logger, renderOpts)
	if err != nil {
		return fmt.Errorf("failed to init renderer: %w", err)
	}

	if opts.count == 1 {
		return runSingleGenerate(renderer, store, opts)
	}
	return runBatchGenerate(renderer, store, opts)
}

func runSingleGenerate(renderer worker.Renderer, store *library.Writer, opts generateOptions) error {
	key := library.Key{Params: opts.params}

	logger.Info("Starting texture generation",
		"key", key.String(),
		"format", opts.format,
		"output_dir", opts.outputDir,
		"library", opts.libraryPath,
		"force", opts.force,
	)

	path, err := renderer.Render(context.Background(), key, opts.force)
	if err != nil {
		return err
	}

	if store != nil {
		if err := store.Flush(); err != nil {
			return fmt.Errorf("failed to flush library: %w", err)
		}
	}
	logger.Info("Texture generated", "key", key.String(), "path", path)
	return nil
}

func runBatchGenerate(renderer worker.Renderer, store *library.Writer, opts generateOptions) error {
	tasks := buildTasks(opts.params, opts.count, opts.force)

	logger.Info("Starting batch texture generation",
		"color", opts.params.Color,
		"size", fmt.Sprintf("%dx%d", opts.params.Width, opts.params.Height),
		"count", len(tasks),
		"workers", opts.workers,
		"format", opts.format,
		"output_dir", opts.outputDir,
		"library", opts.libraryPath,
	)

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	progress := worker.NewProgress(len(tasks), opts.showProgress)
	pool := worker.New(worker.Config{
		Workers:    opts.workers,
		Renderer:   renderer,
		OnProgress: progress.Callback(),
	})

	results := pool.Run(ctx, tasks)
	progress.Done()

	var failedCount int
	for _, r := range results {
		if r.Err != nil {
			failedCount++
			logger.Error("Texture generation failed", "key", r.Task.Key.String(), "error", r.Err)
		}
	}

	logger.Info(progress.Summary())

	if store != nil {
		logger.Info("Flushing texture library...")
		if err := store.Flush(); err != nil {
			return fmt.Errorf("failed to flush library: %w", err)
		}
	}

	if missing := len(tasks) - len(results); missing > 0 {
		return fmt.Errorf("generation cancelled: %d textures not started", missing)
	}
	if failedCount > 0 {
		if !opts.allowFailures {
			return fmt.Errorf("%d textures failed to generate", failedCount)
		}
		logger.Warn("Some textures failed to generate, but continuing due to --allow-failures flag", "failed_count", failedCount)
	}
	return nil
}

// newGenerator builds the generator shared by the generate and serve commands.
func newGenerator(strictBands bool, blur noise.Blurrer) *noise.Generator {
	opts := []noise.Option{noise.WithLogger(logger), noise.WithStrictBands(strictBands)}
	if blur != nil {
		opts = append(opts, noise.WithBlurrer(blur))
	}
	return noise.New(opts...)
}

// closeWith closes c and stores a failure in *err. An earlier error wins and
// the close error is only logged.
func closeWith(err *error, c io.Closer, what string) {
	cerr := c.Close()
	if cerr == nil {
		return
	}
	if *err == nil {
		*err = fmt.Errorf("failed to close %s: %w", what, cerr)
		return
	}
	logger.Error("Failed to close "+what, "error", cerr)
}

// buildTasks creates one task per variant of params.
func buildTasks(params noise.Params, count int, force bool) []worker.Task {
	tasks := make([]worker.Task, 0, count)
	for v := 0; v < count; v++ {
		tasks = append(tasks, worker.Task{
			Key:   library.Key{Params: params, Variant: v},
			Force: force,
		})
	}
	return tasks
}
