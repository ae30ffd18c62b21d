// CSI Processor - amplitude/phase extraction for ESP32 CSI datasets
// This program partitions captured datasets by receiver and transmitter,
// removes null subcarriers and exports amplitude, phase and channel estimates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"esp32-csi/internal/config"
	"esp32-csi/internal/dataset"
	"esp32-csi/internal/logging"
	"esp32-csi/internal/processor"
	"esp32-csi/internal/version"
)

var (
	cfgFile      string // Optional configuration file
	inputPattern string // File pattern for input datasets
	outputDir    string // Output directory
	verbose      bool   // Enable verbose logging
	showVersion  bool   // Show version information
	dryRun       bool   // Show what would be processed without doing it

	v = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "csi-processor",
	Short: "Amplitude/phase extraction for ESP32 CSI datasets",
	Long: `CSI Processor reads tab-separated CSI datasets written by csi-capture (plain
or gzip compressed), splits them into transmissions by receiver and
transmitter position, keeps the records of the selected signal mode, removes
null subcarriers and converts every record to amplitude and phase.

Supported output formats:
  - CSV: one row per record and subcarrier
  - JSON: full amplitude/phase matrices and channel estimates
  - GeoJSON: receiver/transmitter sites and links for web mapping
  - KML: receiver/transmitter sites for Google Earth

Example usage:
  csi-processor --input "data/csi-*.csv.gz"
  csi-processor --input "data/*.csv" --sig-mode 0 --channel --output-format json
  csi-processor --input "data/*.csv" --dry-run --verbose`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo(version.ProcessorApp))
			return
		}

		if err := runProcessor(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	def := config.DefaultConfig()

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file")

	// Input/Output flags
	rootCmd.Flags().StringVarP(&inputPattern, "input", "i", "", "input file pattern (e.g., 'data/csi-*.csv.gz')")
	rootCmd.Flags().StringP("output-format", "f", def.Processing.OutputFormat, "output format (csv, json, geojson, kml)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "./csi-results", "output directory")

	// Processing flags
	rootCmd.Flags().IntP("sig-mode", "s", def.Processing.SigMode, "signal mode to keep (0 non-HT, 1 HT)")
	rootCmd.Flags().IntP("workers", "w", def.Processing.Workers, "transmissions processed concurrently (0 for all CPUs)")
	rootCmd.Flags().Float64("spacing", def.Processing.SubcarrierSpacingKHz, "subcarrier spacing in kHz")
	rootCmd.Flags().Bool("channel", def.Processing.Channel, "compute impulse response and power delay profile per record")

	// Control flags
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().String("log-format", def.Logging.Format, "log format (text, json)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be processed without doing it")

	for key, flag := range map[string]string{
		"processing.output_format":          "output-format",
		"processing.sig_mode":               "sig-mode",
		"processing.workers":                "workers",
		"processing.subcarrier_spacing_khz": "spacing",
		"processing.channel":                "channel",
		"logging.format":                    "log-format",
	} {
		v.BindPFlag(key, rootCmd.Flags().Lookup(flag))
	}

	rootCmd.MarkFlagRequired("input")
}

// runProcessor is the main application logic
func runProcessor(ctx context.Context) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}
	v.SetEnvPrefix("CSI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	} else {
		cfg.Logging.Level = "warn"
	}

	logger, closer, err := logging.New(cfg.Logging.Options())
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Printf("╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║                  ESP32 CSI PROCESSOR %s                ║\n", fmt.Sprintf("%-8s", version.GetFullVersion()))
	fmt.Printf("╚══════════════════════════════════════════════════════════════╝\n\n")

	if verbose {
		fmt.Printf("🔧 Configuration:\n")
		fmt.Printf("   Input Pattern: %s\n", inputPattern)
		fmt.Printf("   Output Format: %s\n", cfg.Processing.OutputFormat)
		fmt.Printf("   Output Directory: %s\n", outputDir)
		fmt.Printf("   Signal Mode: %d\n", cfg.Processing.SigMode)
		fmt.Printf("   Channel Analysis: %t\n", cfg.Processing.Channel)
		fmt.Printf("   Dry Run: %t\n\n", dryRun)
	}

	files, err := findMatchingFiles(inputPattern)
	if err != nil {
		return fmt.Errorf("failed to find input files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found matching pattern '%s'. Make sure:\n  - Pattern includes correct path (e.g., 'data/csi-*.csv')\n  - Files have .csv, .tsv or .csv.gz extension\n  - Pattern is quoted to prevent shell expansion", inputPattern)
	}

	fmt.Printf("📁 Found %d input files:\n", len(files))
	for i, file := range files {
		fmt.Printf("   %d. %s\n", i+1, filepath.Base(file))
	}
	fmt.Println()

	rows, err := loadRows(files, logger)
	if err != nil {
		return err
	}
	parts := dataset.Split(rows)
	fmt.Printf("📥 Loaded %d rows in %d transmissions\n", len(rows), len(parts))

	if dryRun {
		fmt.Printf("🔍 DRY RUN: Would process %d transmissions with signal mode %d\n", len(parts), cfg.Processing.SigMode)
		fmt.Printf("📤 Would generate output in %s format to: %s\n", cfg.Processing.OutputFormat, outputDir)
		return nil
	}

	proc, err := processor.NewProcessor(&processor.Config{
		TargetSigMode:        cfg.Processing.SigMode,
		Workers:              cfg.Processing.Workers,
		SubcarrierSpacingKHz: cfg.Processing.SubcarrierSpacingKHz,
		WithChannel:          cfg.Processing.Channel,
	}, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("⚙️  Processing %d transmissions...\n", len(parts))
	result, err := proc.ProcessAll(ctx, parts)
	if errors.Is(err, processor.ErrNothingToProcess) && result != nil {
		displaySummary(result, "")
	}
	if err != nil {
		return fmt.Errorf("CSI processing failed: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputFile := generateOutputFilename(result, cfg.Processing.OutputFormat, outputDir)
	fmt.Printf("📤 Exporting results to %s...\n", outputFile)
	if err := exportResults(result, cfg.Processing.OutputFormat, outputFile); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	displaySummary(result, outputFile)
	return nil
}

// findMatchingFiles finds dataset files matching the input pattern
func findMatchingFiles(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var files []string
	for _, match := range matches {
		name := strings.ToLower(match)
		if strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".tsv") || strings.HasSuffix(name, ".csv.gz") {
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadRows reads every file, reporting rows that could not be parsed
func loadRows(files []string, logger logrus.FieldLogger) ([]dataset.Row, error) {
	var rows []dataset.Row
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file, err)
		}

		fileRows, skipped, err := dataset.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		for _, s := range skipped {
			logger.WithField("file", filepath.Base(file)).Debugf("skipping row: %v", s)
		}
		if len(skipped) > 0 {
			fmt.Printf("⚠️  %s: skipped %d unreadable rows\n", filepath.Base(file), len(skipped))
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

// generateOutputFilename creates an output filename based on processing results
func generateOutputFilename(result *processor.Result, format, outputDir string) string {
	// Format: csi_YYYYMMDD_HHMMSS_HT.csv
	timestamp := result.ProcessingTime.Format("20060102_150405")
	mode := strings.ReplaceAll(result.TargetSigMode.String(), "-", "")

	suffix := "." + format
	filename := fmt.Sprintf("csi_%s_%s%s", timestamp, mode, suffix)
	return filepath.Join(outputDir, filename)
}

// exportResults exports the processing results in the specified format
func exportResults(result *processor.Result, format, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := result.Export(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// displaySummary shows a summary of the processing results
func displaySummary(result *processor.Result, outputFile string) {
	fmt.Printf("\n✅ CSI Processing Complete!\n\n")

	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	tbl := table.New("Receiver", "Distance (m)", "Rows", "Filtered", "Failed", "Records", "Widths", "Status")
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)

	warn := color.New(color.FgRed).SprintFunc()
	for _, t := range result.Transmissions {
		status := "ok"
		records, widths := 0, "-"
		if t.Skipped() {
			status = warn("skipped")
		} else {
			records = t.CSI.Records()
			var ws []string
			for _, g := range t.CSI.Groups {
				w := fmt.Sprintf("%d", g.Layout.Width)
				if g.Degraded() {
					w += "*"
					status = warn("degraded")
				}
				ws = append(ws, w)
			}
			widths = strings.Join(ws, ",")
		}
		tbl.AddRow(t.Key.ReceiverID, fmt.Sprintf("%.1f", t.DistanceKm*1000), t.Rows, t.Filtered, len(t.Failures), records, widths, status)
	}
	tbl.Print()

	fmt.Printf("\n📊 %d of %d transmissions processed (signal mode %s)\n",
		len(result.Processed()), len(result.Transmissions), result.TargetSigMode)
	fmt.Printf("   * unsupported width, processed without null subcarrier removal\n")
	if outputFile != "" {
		fmt.Printf("📁 Output File: %s\n\n", outputFile)
	}
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
