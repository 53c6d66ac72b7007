package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Mode          string
	Operations    int
	Duration      float64
	Throughput    float64
	Latency       float64 // microseconds per operation
	HitRate       float64 // For read benchmarks
	ReadRatio     float64 // For mixed benchmarks
	WriteRatio    float64 // For mixed benchmarks
	BytesWritten  int64
	Tables        int // For compaction benchmarks
	Timestamp     time.Time
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Mode",
	"Operations", "Duration", "Throughput", "Latency", "HitRate",
	"ReadRatio", "WriteRatio", "BytesWritten", "Tables",
}

// Summary renders the result as an indented block
func (r BenchmarkResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s Benchmark Results:", r.BenchmarkType)
	fmt.Fprintf(&b, "\n  Key Mode: %s", r.Mode)
	fmt.Fprintf(&b, "\n  Operations: %d", r.Operations)
	fmt.Fprintf(&b, "\n  Time: %.2f seconds", r.Duration)
	fmt.Fprintf(&b, "\n  Throughput: %.2f ops/sec", r.Throughput)
	fmt.Fprintf(&b, "\n  Latency: %.3f µs/op", r.Latency)

	switch r.BenchmarkType {
	case "Read":
		fmt.Fprintf(&b, "\n  Hit Rate: %.2f%%", r.HitRate)
	case "Mixed":
		fmt.Fprintf(&b, "\n  Reads: %.1f%%, Writes: %.1f%%", r.ReadRatio, r.WriteRatio)
	case "Compaction":
		fmt.Fprintf(&b, "\n  Heap Bytes Compacted: %.2f MB", float64(r.BytesWritten)/(1024*1024))
		fmt.Fprintf(&b, "\n  Tables: %d", r.Tables)
	default:
		if r.BytesWritten > 0 {
			fmt.Fprintf(&b, "\n  Data Written: %.2f MB", float64(r.BytesWritten)/(1024*1024))
		}
	}
	return b.String()
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			r.Mode,
			strconv.Itoa(r.Operations),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.1f", r.ReadRatio),
			fmt.Sprintf("%.1f", r.WriteRatio),
			strconv.FormatInt(r.BytesWritten, 10),
			strconv.Itoa(r.Tables),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(rows) <= 1 {
		return []BenchmarkResult{}, nil
	}
	rows = rows[1:]

	results := make([]BenchmarkResult, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, row[0])
		numKeys, _ := strconv.Atoi(row[2])
		valueSize, _ := strconv.Atoi(row[3])
		operations, _ := strconv.Atoi(row[5])
		duration, _ := strconv.ParseFloat(row[6], 64)
		throughput, _ := strconv.ParseFloat(row[7], 64)
		latency, _ := strconv.ParseFloat(row[8], 64)
		hitRate, _ := strconv.ParseFloat(row[9], 64)
		readRatio, _ := strconv.ParseFloat(row[10], 64)
		writeRatio, _ := strconv.ParseFloat(row[11], 64)
		bytesWritten, _ := strconv.ParseInt(row[12], 10, 64)
		tables, _ := strconv.Atoi(row[13])

		results = append(results, BenchmarkResult{
			Timestamp:     timestamp,
			BenchmarkType: row[1],
			NumKeys:       numKeys,
			ValueSize:     valueSize,
			Mode:          row[4],
			Operations:    operations,
			Duration:      duration,
			Throughput:    throughput,
			Latency:       latency,
			HitRate:       hitRate,
			ReadRatio:     readRatio,
			WriteRatio:    writeRatio,
			BytesWritten:  bytesWritten,
			Tables:        tables,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(w io.Writer, results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results to display")
		return
	}

	const rule = "+-----------------+--------+---------+------------+------------+-------------+"
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "| Benchmark Type  | Keys   | ValSize | Throughput | Latency    | Detail      |")
	fmt.Fprintln(w, rule)

	for _, r := range results {
		detail := "-"
		switch r.BenchmarkType {
		case "Read":
			detail = fmt.Sprintf("%.2f%%", r.HitRate)
		case "Mixed":
			detail = fmt.Sprintf("R:%.0f/W:%.0f", r.ReadRatio, r.WriteRatio)
		case "Compaction":
			detail = fmt.Sprintf("%d tables", r.Tables)
		}

		latencyUnit := "us"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Fprintf(w, "| %-15s | %6d | %7d | %10.2f | %8.2f%s | %-11s |\n",
			r.BenchmarkType, r.NumKeys, r.ValueSize, r.Throughput, latency, latencyUnit, detail)
	}
	fmt.Fprintln(w, rule)
}
