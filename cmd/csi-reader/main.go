// CSI Reader - Utility to inspect ESP32 CSI datasets
// This program summarizes the transmissions in a dataset and shows the
// decoded amplitude and phase of individual records.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"esp32-csi/internal/csi"
	"esp32-csi/internal/dataset"
	"esp32-csi/internal/version"
)

var (
	showVersion  bool
	showFailures bool
	showStats    bool
	outputFormat string
	recordLine   int
	sigModeFlag  int
	maxFailures  int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "csi-reader [dataset.csv]",
	Short: "Inspect ESP32 CSI datasets",
	Long: `CSI Reader displays the transmissions contained in a CSI dataset written by
csi-capture: receiver and transmitter positions, distance, signal modes and
raw CSI widths. Useful for verifying a capture before processing it.

Display modes:
  --failures   List rows whose CSI field does not decode
  --stats      Show RSSI statistics per transmission
  --record N   Show per-subcarrier amplitude and phase of the row on line N`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo(version.ReaderApp))
			return
		}

		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}

		if err := displayFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVar(&showFailures, "failures", false, "list rows whose CSI does not decode")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show RSSI statistics per transmission")
	rootCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json)")
	rootCmd.Flags().IntVarP(&recordLine, "record", "r", 0, "show amplitude/phase of the row on this line")
	rootCmd.Flags().IntVarP(&sigModeFlag, "sig-mode", "s", -1, "only count rows of this signal mode (-1 for all)")
	rootCmd.Flags().IntVar(&maxFailures, "max-failures", 20, "maximum number of failures to list")
}

// partitionInfo summarizes one transmission of the dataset
type partitionInfo struct {
	ReceiverID  string      `json:"receiver_id"`
	Receiver    string      `json:"receiver"`
	Transmitter string      `json:"transmitter"`
	DistanceM   float64     `json:"distance_m"`
	Rows        int         `json:"rows"`
	SigModes    map[int]int `json:"sig_modes"`
	Widths      map[int]int `json:"widths"`
	Failures    []failure   `json:"failures,omitempty"`
	RSSIMin     int         `json:"rssi_min"`
	RSSIMax     int         `json:"rssi_max"`
	RSSIMean    float64     `json:"rssi_mean"`
}

type failure struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// displayFile reads and displays the contents of a CSI dataset
func displayFile(filename string) error {
	fileInfo, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return err
	}

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	rows, skipped, err := dataset.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}

	if sigModeFlag >= 0 {
		kept := rows[:0]
		for _, r := range rows {
			if int(r.SigMode) == sigModeFlag {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	infos := summarize(dataset.Split(rows))

	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	if outputFormat != "table" {
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}

	fmt.Printf("ESP32 CSI DATASET READER %s\n\n", version.GetFullVersion())

	fmt.Printf("📁 File Information:\n")
	fmt.Printf("Name: %s\n", filepath.Base(filename))
	fmt.Printf("Size: %.2f MB (%d bytes)\n", float64(fileInfo.Size())/(1024*1024), fileInfo.Size())
	fmt.Printf("Modified: %s\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))
	fmt.Printf("Rows: %d readable, %d unreadable\n\n", len(rows), len(skipped))

	displayPartitions(infos)

	if showStats {
		displayStatistics(infos)
	}

	if showFailures {
		displayFailures(infos, skipped)
	}

	if recordLine > 0 {
		return displayRecord(rows, recordLine)
	}
	return nil
}

// summarize builds the per-transmission summary
func summarize(parts []dataset.Partition) []partitionInfo {
	infos := make([]partitionInfo, 0, len(parts))
	for _, p := range parts {
		info := partitionInfo{
			ReceiverID:  p.Key.ReceiverID,
			Receiver:    p.Key.Receiver.String(),
			Transmitter: p.Key.Transmitter.String(),
			DistanceM:   p.Key.Distance() * 1000,
			Rows:        len(p.Rows),
			SigModes:    make(map[int]int),
			Widths:      make(map[int]int),
			RSSIMin:     math.MaxInt,
			RSSIMax:     math.MinInt,
		}

		sum := 0
		for _, r := range p.Rows {
			info.SigModes[int(r.SigMode)]++
			sum += r.RSSI
			info.RSSIMin = min(info.RSSIMin, r.RSSI)
			info.RSSIMax = max(info.RSSIMax, r.RSSI)

			samples, err := csi.Decode(r.CSI)
			if err != nil {
				info.Failures = append(info.Failures, failure{Line: r.Line, Error: err.Error()})
				continue
			}
			info.Widths[len(samples)]++
		}
		info.RSSIMean = float64(sum) / float64(len(p.Rows))
		infos = append(infos, info)
	}
	return infos
}

func displayPartitions(infos []partitionInfo) {
	fmt.Printf("📡 Transmissions:\n")

	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	tbl := table.New("#", "Receiver", "Receiver Position", "Transmitter Position", "Distance (m)", "Rows", "Sig Modes", "Widths", "Failed")
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)

	for i, info := range infos {
		tbl.AddRow(i+1, info.ReceiverID, info.Receiver, info.Transmitter,
			fmt.Sprintf("%.1f", info.DistanceM), info.Rows,
			formatCounts(info.SigModes, func(k int) string { return csi.SigMode(k).String() }),
			formatCounts(info.Widths, func(k int) string { return widthLabel(k) }),
			len(info.Failures))
	}
	tbl.Print()
	fmt.Println()
}

func displayStatistics(infos []partitionInfo) {
	fmt.Printf("📊 RSSI Statistics:\n")

	tbl := table.New("#", "Receiver", "Min (dBm)", "Mean (dBm)", "Max (dBm)")
	tbl.WithHeaderFormatter(color.New(color.FgGreen, color.Underline).SprintfFunc())
	for i, info := range infos {
		tbl.AddRow(i+1, info.ReceiverID, info.RSSIMin, fmt.Sprintf("%.1f", info.RSSIMean), info.RSSIMax)
	}
	tbl.Print()
	fmt.Println()
}

func displayFailures(infos []partitionInfo, skipped []*dataset.RowError) {
	fmt.Printf("⚠️  Failures:\n")

	listed := 0
	for _, s := range skipped {
		if listed >= maxFailures {
			break
		}
		fmt.Printf("   line %d: %v\n", s.Line, s.Err)
		listed++
	}
	for _, info := range infos {
		for _, f := range info.Failures {
			if listed >= maxFailures {
				break
			}
			fmt.Printf("   line %d (%s): %s\n", f.Line, info.ReceiverID, f.Error)
			listed++
		}
	}
	if listed == 0 {
		fmt.Printf("   none\n")
	}
	fmt.Println()
}

// displayRecord shows the cleaned per-subcarrier amplitude and phase of one row
func displayRecord(rows []dataset.Row, line int) error {
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Line >= line })
	if idx == len(rows) || rows[idx].Line != line {
		return fmt.Errorf("no readable row on line %d", line)
	}
	r := rows[idx]

	samples, err := csi.Decode(r.CSI)
	if err != nil {
		var perr *csi.ParseError
		if errors.As(err, &perr) && perr.Position >= 0 {
			return fmt.Errorf("line %d: token %d %q does not decode: %w", line, perr.Position, perr.Token, err)
		}
		return fmt.Errorf("line %d: %w", line, err)
	}

	layout := csi.LayoutFor(len(samples))
	cleaned := csi.RemoveNulls(samples, layout)

	fmt.Printf("🔬 Record on line %d:\n", line)
	fmt.Printf("Receiver: %s | RSSI: %d dBm | Signal Mode: %s | MAC: %s\n", r.ReceiverID, r.RSSI, r.SigMode, orDash(r.MAC))
	fmt.Printf("Layout: %s\n", layout)
	if !layout.Supported {
		color.New(color.FgRed).Printf("Unsupported width %d: null subcarriers not removed\n", len(samples))
	}
	fmt.Println()

	tbl := table.New("Subcarrier", "Imag", "Real", "Amplitude", "Phase (rad)")
	tbl.WithHeaderFormatter(color.New(color.FgGreen, color.Underline).SprintfFunc())
	for k := 0; k+1 < len(cleaned); k += 2 {
		im, re := cleaned[k], cleaned[k+1]
		tbl.AddRow(k/2, im, re,
			strconv.FormatFloat(csi.Amplitude(im, re), 'f', 3, 64),
			strconv.FormatFloat(csi.Phase(im, re), 'f', 4, 64))
	}
	tbl.Print()
	return nil
}

func formatCounts(counts map[int]int, label func(int) string) string {
	if len(counts) == 0 {
		return "-"
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", label(k), counts[k])
	}
	return strings.Join(parts, " ")
}

func widthLabel(width int) string {
	if csi.LayoutFor(width).Supported {
		return strconv.Itoa(width)
	}
	return strconv.Itoa(width) + "*"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
