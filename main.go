// CSI Capture - ESP32 Wi-Fi channel state information capture tool
// This program records CSI frames from an ESP32 running CSI firmware together
// with the receiver and transmitter positions into a tab-separated dataset.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"esp32-csi/internal/capture"
	"esp32-csi/internal/config"
	"esp32-csi/internal/csi"
	"esp32-csi/internal/esp32"
	"esp32-csi/internal/gps"
	"esp32-csi/internal/logging"
	"esp32-csi/internal/metrics"
	"esp32-csi/internal/version"
)

// Command line flag variables
var (
	cfgFile     string // Configuration file path
	verbose     bool   // Enable debug logging
	showVersion bool   // Show version information
	printConfig bool   // Print the effective configuration and exit
	listPorts   bool   // List serial ports and exit
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "csi-capture",
	Short: "ESP32 CSI capture tool",
	Long: `CSI Capture records Wi-Fi channel state information reported by an ESP32
running CSI firmware. Every frame is stamped with the receiver id, the receiver
position (GPS or manual) and the configured transmitter position, and written
as one row of a tab-separated dataset ready for csi-processor.

Example usage:
  csi-capture --receiver-id ca04 --port /dev/ttyUSB0 --tx-lat -34.5 --tx-lon -58.1 --latitude -34.6 --longitude -58.2
  csi-capture --receiver-id ca04 --simulate --duration 30s --compress
  csi-capture --print-config > config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo(version.CaptureApp))
			return
		}

		if err := runCapture(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)

	def := config.DefaultConfig()

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration as YAML and exit")
	rootCmd.Flags().BoolVar(&listPorts, "list-ports", false, "list serial ports and exit")

	// Capture
	rootCmd.Flags().StringP("receiver-id", "r", def.Capture.ReceiverID, "receiver id written to the se column")
	rootCmd.Flags().DurationP("duration", "d", def.Capture.Duration, "capture duration (0 until interrupted)")
	rootCmd.Flags().StringP("output", "o", def.Capture.OutputDir, "output directory")
	rootCmd.Flags().String("prefix", def.Capture.FilePrefix, "output file prefix")
	rootCmd.Flags().Bool("compress", def.Capture.Compress, "gzip compress the dataset")

	// ESP32
	rootCmd.Flags().StringP("port", "p", def.ESP32.Port, "ESP32 serial port")
	rootCmd.Flags().Int("baud", def.ESP32.BaudRate, "ESP32 serial baud rate")
	rootCmd.Flags().Bool("simulate", def.ESP32.Simulate, "generate synthetic CSI frames instead of reading a device")
	rootCmd.Flags().Int("sim-width", def.ESP32.SimulatedWidth, "raw sample count of simulated frames (128, 256, 384)")
	rootCmd.Flags().Int("sim-sig-mode", def.ESP32.SimulatedSigMode, "signal mode of simulated frames (0 non-HT, 1 HT)")
	rootCmd.Flags().Duration("sim-interval", def.ESP32.SimulatedInterval, "delay between simulated frames")

	// Transmitter
	rootCmd.Flags().Float64("tx-lat", def.Transmitter.Latitude, "transmitter latitude in decimal degrees")
	rootCmd.Flags().Float64("tx-lon", def.Transmitter.Longitude, "transmitter longitude in decimal degrees")
	rootCmd.Flags().Float64("tx-alt", def.Transmitter.Altitude, "transmitter altitude in meters")

	// GPS configuration options
	rootCmd.Flags().String("gps-mode", def.GPS.Mode, "GPS mode: nmea, gpsd, or manual")
	rootCmd.Flags().String("gps-port", def.GPS.Port, "GPS serial port (for NMEA mode)")
	rootCmd.Flags().String("gpsd-host", def.GPS.GPSDHost, "GPSD host address (for gpsd mode)")
	rootCmd.Flags().String("gpsd-port", def.GPS.GPSDPort, "GPSD port (for gpsd mode)")
	rootCmd.Flags().Duration("gps-timeout", def.GPS.Timeout, "timeout for the first GPS fix")

	// Manual receiver coordinates (for manual mode)
	rootCmd.Flags().Float64("latitude", def.GPS.ManualLatitude, "manual receiver latitude in decimal degrees (for manual mode)")
	rootCmd.Flags().Float64("longitude", def.GPS.ManualLongitude, "manual receiver longitude in decimal degrees (for manual mode)")
	rootCmd.Flags().Float64("altitude", def.GPS.ManualAltitude, "manual receiver altitude in meters (for manual mode)")

	// Logging and metrics
	rootCmd.Flags().String("log-level", def.Logging.Level, "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", def.Logging.Format, "log format (text, json)")
	rootCmd.Flags().String("log-file", def.Logging.File, "also write logs to this file")
	rootCmd.Flags().String("metrics-listen", def.Metrics.Listen, "serve Prometheus metrics on this address (e.g. :9110)")

	// Bind command line flags to viper configuration keys
	for key, flag := range map[string]string{
		"capture.receiver_id":      "receiver-id",
		"capture.duration":         "duration",
		"capture.output_dir":       "output",
		"capture.file_prefix":      "prefix",
		"capture.compress":         "compress",
		"esp32.port":               "port",
		"esp32.baud_rate":          "baud",
		"esp32.simulate":           "simulate",
		"esp32.simulated_width":    "sim-width",
		"esp32.simulated_sig_mode": "sim-sig-mode",
		"esp32.simulated_interval": "sim-interval",
		"transmitter.latitude":     "tx-lat",
		"transmitter.longitude":    "tx-lon",
		"transmitter.altitude":     "tx-alt",
		"gps.mode":                 "gps-mode",
		"gps.port":                 "gps-port",
		"gps.gpsd_host":            "gpsd-host",
		"gps.gpsd_port":            "gpsd-port",
		"gps.timeout":              "gps-timeout",
		"gps.manual_latitude":      "latitude",
		"gps.manual_longitude":     "longitude",
		"gps.manual_altitude":      "altitude",
		"logging.level":            "log-level",
		"logging.format":           "log-format",
		"logging.file":             "log-file",
		"metrics.listen":           "metrics-listen",
	} {
		viper.BindPFlag(key, rootCmd.Flags().Lookup(flag))
	}
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// CSI_CAPTURE_RECEIVER_ID, CSI_ESP32_PORT, ...
	viper.SetEnvPrefix("CSI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runCapture is the main application logic
func runCapture() error {
	if listPorts {
		return printPorts()
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if printConfig {
		return cfg.WriteYAML(os.Stdout)
	}

	if err := cfg.ValidateCapture(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging.Options())
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.WithFields(version.GetBuildInfo().Fields()).Info("csi-capture starting")

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	source, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	position, err := gps.New(cfg.GPS.Options(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize GPS: %w", err)
	}
	defer position.Close()
	if err := position.Start(ctx); err != nil {
		return fmt.Errorf("failed to start GPS: %w", err)
	}

	printStartup(cfg, source)

	c, err := capture.New(cfg, source, position, logger, m)
	if err != nil {
		return fmt.Errorf("failed to initialize capture: %w", err)
	}

	summary, err := c.RunToFile(ctx)
	if summary != nil {
		printSummary(summary)
	}
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	fmt.Printf("Capture completed successfully.\n")
	return nil
}

type csiSource interface {
	Read(p []byte) (int, error)
	Close() error
	String() string
}

// openSource returns the simulator or the serial port selected by cfg
func openSource(cfg *config.Config) (csiSource, error) {
	if cfg.ESP32.Simulate {
		sim, err := esp32.NewSimulator(esp32.SimulatorConfig{
			Width:    cfg.ESP32.SimulatedWidth,
			SigMode:  csi.SigMode(cfg.ESP32.SimulatedSigMode),
			Interval: cfg.ESP32.SimulatedInterval,
			Seed:     time.Now().UnixNano(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create simulator: %w", err)
		}
		return sim, nil
	}

	port, err := esp32.OpenPort(cfg.ESP32.Port, cfg.ESP32.BaudRate)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	logger.WithField("addr", addr).Info("serving metrics")
	return srv
}

func printPorts() error {
	ports, err := esp32.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	sort.Strings(ports)
	fmt.Printf("📡 Serial ports:\n")
	for _, p := range ports {
		fmt.Printf("   %s\n", p)
	}
	return nil
}

func printStartup(cfg *config.Config, src csiSource) {
	fmt.Printf("CSI Capture starting...\n")
	fmt.Printf("Receiver: %s\n", cfg.Capture.ReceiverID)
	fmt.Printf("Source: %s\n", src)
	if cfg.Capture.Duration > 0 {
		fmt.Printf("Duration: %v\n", cfg.Capture.Duration)
	} else {
		fmt.Printf("Duration: until interrupted\n")
	}
	fmt.Printf("Output: %s\n", cfg.Capture.OutputDir)
	fmt.Printf("Transmitter: %s\n", cfg.Transmitter.Location())

	switch cfg.GPS.Mode {
	case gps.ModeManual:
		fmt.Printf("GPS: MANUAL MODE (using fixed coordinates)\n")
		fmt.Printf("Location: %.8f°, %.8f° (%.1f m)\n",
			cfg.GPS.ManualLatitude, cfg.GPS.ManualLongitude, cfg.GPS.ManualAltitude)
	case gps.ModeNMEA:
		fmt.Printf("GPS: NMEA MODE (serial port %s)\n", cfg.GPS.Port)
	case gps.ModeGPSD:
		fmt.Printf("GPS: GPSD MODE (%s:%s)\n", cfg.GPS.GPSDHost, cfg.GPS.GPSDPort)
	}
}

func printSummary(s *capture.Summary) {
	fmt.Printf("\n📊 Capture Summary:\n")
	fmt.Printf("   Session: %s\n", s.SessionID)
	if s.Path != "" {
		fmt.Printf("   Dataset: %s\n", s.Path)
	}
	fmt.Printf("   Elapsed: %v\n", s.Duration().Round(time.Millisecond))
	fmt.Printf("   Rows: %d\n", s.Rows)
	fmt.Printf("   Lines ignored: %d, malformed: %d\n", s.Lines.Ignored, s.Lines.Invalid)

	widths := make([]int, 0, len(s.Widths))
	for w := range s.Widths {
		widths = append(widths, w)
	}
	sort.Ints(widths)
	for _, w := range widths {
		fmt.Printf("   Width %d: %d rows\n", w, s.Widths[w])
	}
	fmt.Printf("   Receiver: %.6f°, %.6f°\n", s.Receiver.Latitude, s.Receiver.Longitude)
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
