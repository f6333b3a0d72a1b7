package cmd

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/spectralnoise/internal/encode"
	"github.com/MeKo-Tech/spectralnoise/internal/library"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export library textures to image files",
	Long:  `Write every texture stored in a library to --output-dir, re-encoding to the requested format.`,
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("library", "l", "", "Texture library to export (required)")
	exportCmd.Flags().String("format", "", "Output format: png, tiff or bmp (default: stored format)")
	exportCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")
	exportCmd.Flags().Bool("force", false, "Overwrite files that already exist")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"export.library", "library"},
		{"export.format", "format"},
		{"export.png_compression", "png-compression"},
		{"export.force", "force"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, exportCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	libraryPath := viper.GetString("export.library")
	formatName := viper.GetString("export.format")
	outputDir := viper.GetString("output-dir")
	force := viper.GetBool("export.force")

	if logger == nil {
		initLogging()
	}

	if libraryPath == "" {
		return fmt.Errorf("--library is required")
	}
	if _, err := os.Stat(libraryPath); os.IsNotExist(err) {
		return fmt.Errorf("library does not exist: %s", libraryPath)
	}

	var target encode.Format
	if formatName != "" {
		f, err := encode.ParseFormat(formatName)
		if err != nil {
			return err
		}
		target = f
	}
	level, err := encode.ParsePNGCompression(viper.GetString("export.png_compression"))
	if err != nil {
		return err
	}

	reader, err := library.OpenReader(libraryPath)
	if err != nil {
		return fmt.Errorf("failed to open library: %w", err)
	}
	defer reader.Close()

	entries, err := reader.List()
	if err != nil {
		return fmt.Errorf("failed to list library: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no textures found in %s", libraryPath)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	logger.Info("Exporting library textures",
		"library", libraryPath,
		"output_dir", outputDir,
		"textures", len(entries),
		"format", formatName,
	)

	var exported, skipped, failed int
	for i, entry := range entries {
		written, err := exportEntry(reader, entry, outputDir, target, level, force)
		switch {
		case err != nil:
			failed++
			logger.Error("Failed to export texture", "key", entry.Key.String(), "error", err)
		case written:
			exported++
		default:
			skipped++
		}

		if (i+1)%100 == 0 {
			logger.Info("Progress", "processed", i+1, "total", len(entries))
		}
	}

	logger.Info("Export complete", "output_dir", outputDir, "exported", exported, "skipped", skipped, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d textures failed to export", failed)
	}
	return nil
}

// exportEntry writes one stored texture. Data already in the target format is
// copied verbatim; anything else is decoded and re-encoded.
func exportEntry(reader *library.Reader, entry library.Entry, outputDir string, target encode.Format, level png.CompressionLevel, force bool) (bool, error) {
	stored, err := encode.ParseFormat(entry.Format)
	if err != nil {
		return false, err
	}
	if target == "" {
		target = stored
	}

	path := filepath.Join(outputDir, entry.Key.String()+target.Extension())
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	_, data, err := reader.ReadByID(entry.ID)
	if err != nil {
		return false, err
	}

	if target == stored {
		return true, os.WriteFile(path, data, 0o644)
	}

	img, _, err := encode.Decode(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	return true, encode.WriteFile(path, img, encode.Options{Format: target, PNGCompression: level})
}
