// Package config provides configuration structures and defaults for the ESP32 CSI tools
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"esp32-csi/internal/esp32"
	"esp32-csi/internal/geo"
	"esp32-csi/internal/gps"
	"esp32-csi/internal/logging"
)

// Config represents the complete application configuration
type Config struct {
	ESP32       ESP32Config       `yaml:"esp32" mapstructure:"esp32"`             // CSI source settings
	Transmitter TransmitterConfig `yaml:"transmitter" mapstructure:"transmitter"` // Transmitter site
	GPS         GPSConfig         `yaml:"gps" mapstructure:"gps"`                 // Receiver position settings
	Capture     CaptureConfig     `yaml:"capture" mapstructure:"capture"`         // Dataset capture settings
	Processing  ProcessingConfig  `yaml:"processing" mapstructure:"processing"`   // Decode/process settings
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`         // Logging configuration
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`         // Prometheus endpoint
}

// ESP32Config contains the serial link to the ESP32 or the simulator replacing it
type ESP32Config struct {
	Port              string        `yaml:"port" mapstructure:"port"`                             // Serial device path
	BaudRate          int           `yaml:"baud_rate" mapstructure:"baud_rate"`                   // UART speed of the CSI firmware
	Simulate          bool          `yaml:"simulate" mapstructure:"simulate"`                     // Use synthetic frames instead of a device
	SimulatedWidth    int           `yaml:"simulated_width" mapstructure:"simulated_width"`       // Raw sample count of simulated frames
	SimulatedSigMode  int           `yaml:"simulated_sig_mode" mapstructure:"simulated_sig_mode"` // Signal mode of simulated frames
	SimulatedInterval time.Duration `yaml:"simulated_interval" mapstructure:"simulated_interval"` // Delay between simulated frames
}

// TransmitterConfig is the fixed location of the transmitter being captured
type TransmitterConfig struct {
	Latitude  float64 `yaml:"latitude" mapstructure:"latitude"`   // Decimal degrees
	Longitude float64 `yaml:"longitude" mapstructure:"longitude"` // Decimal degrees
	Altitude  float64 `yaml:"altitude" mapstructure:"altitude"`   // Meters
}

// Location returns the transmitter site
func (t TransmitterConfig) Location() geo.Location {
	return geo.Location{Latitude: t.Latitude, Longitude: t.Longitude, Altitude: t.Altitude}
}

// GPSConfig contains GPS receiver configuration parameters
type GPSConfig struct {
	Mode            string        `yaml:"mode" mapstructure:"mode"`                         // GPS mode: "nmea", "gpsd", or "manual"
	Port            string        `yaml:"port" mapstructure:"port"`                         // Serial port device path (for NMEA mode)
	BaudRate        int           `yaml:"baud_rate" mapstructure:"baud_rate"`               // Serial communication baud rate (for NMEA mode)
	GPSDHost        string        `yaml:"gpsd_host" mapstructure:"gpsd_host"`               // GPSD host address (for gpsd mode)
	GPSDPort        string        `yaml:"gpsd_port" mapstructure:"gpsd_port"`               // GPSD port (for gpsd mode)
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`                   // Timeout for GPS fix acquisition
	ManualLatitude  float64       `yaml:"manual_latitude" mapstructure:"manual_latitude"`   // Manual latitude in decimal degrees
	ManualLongitude float64       `yaml:"manual_longitude" mapstructure:"manual_longitude"` // Manual longitude in decimal degrees
	ManualAltitude  float64       `yaml:"manual_altitude" mapstructure:"manual_altitude"`   // Manual altitude in meters
}

// Options converts the configuration for gps.New
func (g GPSConfig) Options() gps.Options {
	return gps.Options{
		Mode:     g.Mode,
		Port:     g.Port,
		BaudRate: g.BaudRate,
		GPSDHost: g.GPSDHost,
		GPSDPort: g.GPSDPort,
		Manual: geo.Location{
			Latitude:  g.ManualLatitude,
			Longitude: g.ManualLongitude,
			Altitude:  g.ManualAltitude,
		},
	}
}

// CaptureConfig contains dataset capture parameters
type CaptureConfig struct {
	ReceiverID string        `yaml:"receiver_id" mapstructure:"receiver_id"` // Value of the se column
	Duration   time.Duration `yaml:"duration" mapstructure:"duration"`       // Capture duration, 0 until interrupted
	OutputDir  string        `yaml:"output_dir" mapstructure:"output_dir"`   // Output directory for datasets
	FilePrefix string        `yaml:"file_prefix" mapstructure:"file_prefix"` // Prefix for output filenames
	Compress   bool          `yaml:"compress" mapstructure:"compress"`       // Write .csv.gz instead of .csv
}

// ProcessingConfig contains decode and processing parameters
type ProcessingConfig struct {
	SigMode              int     `yaml:"sig_mode" mapstructure:"sig_mode"`                             // Target signal mode: 0 non-HT, 1 HT
	Workers              int     `yaml:"workers" mapstructure:"workers"`                               // Concurrent partitions, 0 for all CPUs
	SubcarrierSpacingKHz float64 `yaml:"subcarrier_spacing_khz" mapstructure:"subcarrier_spacing_khz"` // OFDM subcarrier spacing
	Channel              bool    `yaml:"channel" mapstructure:"channel"`                               // Compute impulse response and PDP
	OutputFormat         string  `yaml:"output_format" mapstructure:"output_format"`                   // csv, json, geojson or kml
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // Log level (debug, info, warn, error)
	Format string `yaml:"format" mapstructure:"format"` // text or json
	File   string `yaml:"file" mapstructure:"file"`     // Log file path, empty for stderr only
}

// Options converts the configuration for logging.New
func (l LoggingConfig) Options() logging.Options {
	return logging.Options{Level: l.Level, Format: l.Format, File: l.File}
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"` // host:port for /metrics, empty to disable
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		ESP32: ESP32Config{
			Port:              "/dev/ttyUSB0",         // Common USB-UART path
			BaudRate:          esp32.DefaultBaudRate,  // CSI firmware UART speed
			Simulate:          false,                  // Real device by default
			SimulatedWidth:    128,                    // L-LTF only
			SimulatedSigMode:  0,                      // non-HT
			SimulatedInterval: 100 * time.Millisecond, // 10 frames per second
		},
		GPS: GPSConfig{
			Mode:     "manual",         // Most receivers are fixed
			Port:     "/dev/ttyACM0",   // Common USB GPS device path
			BaudRate: 9600,             // Standard NMEA baud rate
			GPSDHost: "localhost",      // Default gpsd host
			GPSDPort: "2947",           // Default gpsd port
			Timeout:  30 * time.Second, // 30 second GPS fix timeout
		},
		Capture: CaptureConfig{
			ReceiverID: "",       // Must be set per receiver
			Duration:   0,        // Until interrupted
			OutputDir:  "./data", // Current directory data folder
			FilePrefix: "csi",    // File prefix for output files
			Compress:   false,
		},
		Processing: ProcessingConfig{
			SigMode:              1,     // HT captures carry HT-LTF
			Workers:              0,     // One per CPU
			SubcarrierSpacingKHz: 312.5, // 20 MHz OFDM
			Channel:              false,
			OutputFormat:         "csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
	}
}

// Load builds the configuration from defaults overridden by v (config file,
// environment and bound flags) and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings shared by all tools
func (c *Config) Validate() error {
	if c.Processing.SigMode != 0 && c.Processing.SigMode != 1 {
		return fmt.Errorf("invalid signal mode: %d (must be 0 for non-HT or 1 for HT)", c.Processing.SigMode)
	}
	if c.Processing.Workers < 0 {
		return fmt.Errorf("invalid workers: %d (cannot be negative)", c.Processing.Workers)
	}
	if c.Processing.SubcarrierSpacingKHz <= 0 {
		return fmt.Errorf("invalid subcarrier spacing: %.3f kHz", c.Processing.SubcarrierSpacingKHz)
	}
	switch c.Processing.OutputFormat {
	case "csv", "json", "geojson", "kml":
	default:
		return fmt.Errorf("invalid output format: %s (must be 'csv', 'json', 'geojson', or 'kml')", c.Processing.OutputFormat)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.Logging.Format)
	}
	return nil
}

// ValidateCapture checks the settings needed to capture a dataset
func (c *Config) ValidateCapture() error {
	if strings.TrimSpace(c.Capture.ReceiverID) == "" {
		return fmt.Errorf("receiver id not specified: set capture.receiver_id or use --receiver-id")
	}
	if c.Capture.Duration < 0 {
		return fmt.Errorf("invalid duration: %v", c.Capture.Duration)
	}

	tx := c.Transmitter.Location()
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transmitter location: %w", err)
	}
	if tx.IsZero() {
		return fmt.Errorf("transmitter location not specified: set transmitter.latitude and transmitter.longitude")
	}

	if c.ESP32.Simulate {
		if c.ESP32.SimulatedWidth <= 0 || c.ESP32.SimulatedWidth%2 != 0 {
			return fmt.Errorf("invalid simulated width: %d (must be a positive even number)", c.ESP32.SimulatedWidth)
		}
	} else if c.ESP32.Port == "" {
		return fmt.Errorf("ESP32 port not specified")
	}

	switch c.GPS.Mode {
	case gps.ModeManual:
		loc := c.GPS.Options().Manual
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("invalid manual receiver location: %w", err)
		}
		if loc.IsZero() {
			return fmt.Errorf("manual coordinates not specified: set manual_latitude and manual_longitude in config file or use --latitude and --longitude flags")
		}
	case gps.ModeNMEA:
		if c.GPS.Port == "" {
			return fmt.Errorf("GPS port not specified for NMEA mode")
		}
	case gps.ModeGPSD:
		if c.GPS.GPSDHost == "" {
			return fmt.Errorf("GPSD host not specified for gpsd mode")
		}
		if c.GPS.GPSDPort == "" {
			return fmt.Errorf("GPSD port not specified for gpsd mode")
		}
	default:
		return fmt.Errorf("invalid GPS mode: %s (must be 'nmea', 'gpsd', or 'manual')", c.GPS.Mode)
	}
	return nil
}

// WriteYAML writes the configuration as a YAML document
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
