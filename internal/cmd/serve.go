package cmd

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/MeKo-Tech/spectralnoise/internal/noise"
	"github.com/MeKo-Tech/spectralnoise/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve noise textures over HTTP (generated on demand or from a library)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("library", "", "Texture library to serve under /library/ (optional)")

	serveCmd.Flags().Int("max-concurrent-generations", runtime.NumCPU(), "Max concurrent texture generations (default: number of CPUs)")
	serveCmd.Flags().Duration("generation-timeout", 30*time.Second, "Timeout per texture generation")
	serveCmd.Flags().Int("max-pixels", 4096*4096, "Largest width*height accepted per request")
	serveCmd.Flags().Int("max-iterations", 64, "Most shaping rounds accepted per request")
	serveCmd.Flags().Float32("max-sigma", 256, "Largest blur sigma accepted per request")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for generated textures")
	serveCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.library", "library")
	mustBind("serve.max_concurrent_generations", "max-concurrent-generations")
	mustBind("serve.generation_timeout", "generation-timeout")
	mustBind("serve.max_pixels", "max-pixels")
	mustBind("serve.max_iterations", "max-iterations")
	mustBind("serve.max_sigma", "max-sigma")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.png_compression", "png-compression")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	libraryPath := viper.GetString("serve.library")
	maxConc := viper.GetInt("serve.max_concurrent_generations")
	genTimeout := viper.GetDuration("serve.generation_timeout")
	strictBands := viper.GetBool("strict-bands")
	blur, err := noise.ParseBlurrer(viper.GetString("blur"))
	if err != nil {
		return err
	}

	mux, closeFn, err := newServeMux(serveConfig{
		noise: server.OnDemandNoiseConfig{
			PNGCompression:           viper.GetString("serve.png_compression"),
			CacheControl:             viper.GetString("serve.cache_control"),
			MaxConcurrentGenerations: maxConc,
			GenerationTimeout:        genTimeout,
			MaxPixels:                viper.GetInt("serve.max_pixels"),
			MaxIterations:            viper.GetInt("serve.max_iterations"),
			MaxSigma:                 float32(viper.GetFloat64("serve.max_sigma")),
			StrictBands:              strictBands,
		},
		blur:        blur,
		libraryPath: libraryPath,
	})
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("noise server listening",
		"addr", addr,
		"library", libraryPath,
		"max_concurrent_generations", maxConc,
		"generation_timeout", genTimeout,
		"strict_bands", strictBands,
		"blur", viper.GetString("blur"),
	)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

type serveConfig struct {
	noise       server.OnDemandNoiseConfig
	blur        noise.Blurrer
	libraryPath string
}

// newServeMux wires the HTTP routes. The returned func releases the library.
func newServeMux(cfg serveConfig) (*http.ServeMux, func(), error) {
	gen := newGenerator(cfg.noise.StrictBands, cfg.blur)
	od, err := server.NewOnDemandNoise(gen, cfg.noise, logger)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/status", od.StatusHandler())
	mux.Handle("/status/stream", od.StatusStreamHandler())
	mux.Handle("/noise/", od.Handler())

	closeFn := func() {}
	if cfg.libraryPath != "" {
		lib, err := server.NewLibraryHandler(server.LibraryConfig{LibraryPath: cfg.libraryPath}, logger)
		if err != nil {
			return nil, nil, err
		}
		mux.Handle("/library/", lib.Handler())
		closeFn = func() {
			if err := lib.Close(); err != nil {
				logger.Warn("failed to close library", "error", err)
			}
		}
	}

	return mux, closeFn, nil
}
