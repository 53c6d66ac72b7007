package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/KevoDB/heapkv/pkg/common/log"
	"github.com/KevoDB/heapkv/pkg/engine"
	"github.com/KevoDB/heapkv/pkg/telemetry"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, read, delete, mixed, compaction, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run each benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	threshold     = flag.Int64("compaction-threshold", 4*1024*1024, "Heap size in bytes that triggers compaction")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}

	logger := log.NewStandardLogger(log.WithLevel(log.LevelWarn), log.WithOutput(os.Stderr))
	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "heapkv-bench"
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(telCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	s, err := engine.Open(*dataDir,
		engine.WithLogger(logger),
		engine.WithTelemetry(tel),
		engine.WithCompactionThreshold(*threshold))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	opts := benchOptions{
		Duration:   *duration,
		NumKeys:    *numKeys,
		ValueSize:  *valueSize,
		Sequential: *sequential,
	}

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Duration: %s, Mode: %s\n",
		opts.NumKeys, opts.ValueSize, opts.Duration, opts.keyMode())

	var results []BenchmarkResult
	for _, typ := range strings.Split(*benchmarkType, ",") {
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "all" {
			for _, name := range benchmarkOrder {
				results = append(results, runNamed(s, name, opts))
			}
			continue
		}
		if _, ok := benchmarks[typ]; !ok {
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
		results = append(results, runNamed(s, typ, opts))
	}

	for _, r := range results {
		fmt.Println(r.Summary())
	}
	PrintResultTable(os.Stdout, results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

func runNamed(s *engine.Store, name string, opts benchOptions) BenchmarkResult {
	fmt.Printf("Running %s benchmark...\n", name)
	return benchmarks[name](s, opts)
}
