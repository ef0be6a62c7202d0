package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spherical/doc-converter/internal/app"
	"github.com/spherical/doc-converter/internal/convert"
	"github.com/spherical/doc-converter/internal/domain"
)

var stageLabels = map[convert.Stage]string{
	convert.StageSubmitting:  "Uploading document",
	convert.StageWaiting:     "Waiting for remote conversion",
	convert.StageDownloading: "Downloading result",
	convert.StageExtracting:  "Extracting markdown and images",
}

// newConvertCmd creates the convert subcommand.
func newConvertCmd() *cobra.Command {
	var (
		outputPath string
		imagesDir  string
		maxWait    time.Duration
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document to markdown",
		Example: `  doc-converter convert brochure.pdf
  doc-converter convert -o specs.md --images-dir ./images brochure.pdf
  doc-converter convert --json slides.pptx > result.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			if maxWait > 0 {
				cfg.Conversion.MaxWait = maxWait
			}
			if interval > 0 {
				cfg.Conversion.PollInterval = interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var spin *spinner.Spinner
			if !outputJSON {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				spin.Suffix = " Preparing"
				spin.Start()
				defer spin.Stop()
			}

			a, err := app.New(ctx, cfg, logger, convert.WithStageHook(func(s convert.Stage) {
				if spin == nil {
					return
				}
				spin.Lock()
				spin.Suffix = " " + stageLabels[s]
				spin.Unlock()
			}))
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			result, err := a.Service.Convert(ctx, data)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				reportFailure(err)
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			if outputPath == "" {
				base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
				outputPath = base + ".md"
			}
			if err := os.WriteFile(outputPath, []byte(result.Markdown), 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			written := 0
			if imagesDir != "" {
				written, err = writeImages(imagesDir, result.Images)
				if err != nil {
					return err
				}
			}

			success := color.New(color.FgGreen)
			success.Fprintf(cmd.OutOrStdout(), "✓ Converted %s in %v\n", inputPath, time.Since(start).Round(time.Second))
			fmt.Fprintf(cmd.OutOrStdout(), "  Markdown: %s\n", outputPath)
			fmt.Fprintf(cmd.OutOrStdout(), "  Pages:    %d\n", result.Metadata.PageCount)
			fmt.Fprintf(cmd.OutOrStdout(), "  Images:   %d", len(result.Images))
			if written > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (saved to %s)", imagesDir)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if result.Metadata.Title != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  Title:    %s\n", *result.Metadata.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output markdown path (default: <input-name>.md)")
	cmd.Flags().StringVar(&imagesDir, "images-dir", "", "directory to write extracted images to")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "maximum time to wait for the remote job (default from config)")
	cmd.Flags().DurationVar(&interval, "poll-interval", 0, "delay between status queries (default from config)")

	return cmd
}

// writeImages stores each image under its base name. Names come from the
// remote archive, so only the final path element is used.
func writeImages(dir string, images []domain.ExtractedImage) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create images dir: %w", err)
	}

	seen := make(map[string]bool, len(images))
	for _, img := range images {
		name := filepath.Base(filepath.FromSlash(img.Name))
		if seen[name] {
			name = img.ID + "_" + name
		}
		seen[name] = true

		if err := os.WriteFile(filepath.Join(dir, name), img.Data, 0o644); err != nil {
			return 0, fmt.Errorf("write image %s: %w", name, err)
		}
	}
	return len(images), nil
}

func reportFailure(err error) {
	if outputJSON {
		logger.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("Conversion failed")
		return
	}

	failure := color.New(color.FgRed)
	failure.Fprintf(os.Stderr, "✗ Conversion failed: %v\n", err)

	switch domain.KindOf(err) {
	case domain.KindServiceUnavailable:
		fmt.Fprintln(os.Stderr, "  Set MINERU_API_TOKEN in your environment or .env file")
	case domain.KindTimeout:
		fmt.Fprintln(os.Stderr, "  The remote job did not finish in time; try a larger --max-wait")
	}
}
