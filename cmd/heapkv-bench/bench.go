package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/KevoDB/heapkv/pkg/engine"
)

// maxConsecutiveErrors stops a benchmark that keeps failing
const maxConsecutiveErrors = 10

type benchOptions struct {
	Duration   time.Duration
	NumKeys    int
	ValueSize  int
	Sequential bool
}

func (o benchOptions) keyMode() string {
	if o.Sequential {
		return "Sequential"
	}
	return "Random"
}

func (o benchOptions) generateKey(counter int) []byte {
	if o.Sequential {
		return []byte(fmt.Sprintf("key-%010d", counter))
	}
	// Random prefix with counter to ensure uniqueness
	return []byte(fmt.Sprintf("key-%s-%010d", strconv.FormatUint(rand.Uint64(), 16), counter))
}

func (o benchOptions) value() []byte {
	value := make([]byte, o.ValueSize)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

func (o benchOptions) result(name string, ops int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: name,
		NumKeys:       o.NumKeys,
		ValueSize:     o.ValueSize,
		Mode:          o.keyMode(),
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if ops > 0 && elapsed > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = float64(elapsed.Microseconds()) / float64(ops)
	}
	return r
}

type benchmarkFunc func(s *engine.Store, opts benchOptions) BenchmarkResult

var benchmarks = map[string]benchmarkFunc{
	"write":      runWriteBenchmark,
	"read":       runReadBenchmark,
	"delete":     runDeleteBenchmark,
	"mixed":      runMixedBenchmark,
	"compaction": runCompactionBenchmark,
}

var benchmarkOrder = []string{"write", "read", "delete", "mixed", "compaction"}

// prepare writes keys that later phases read or delete
func prepare(s *engine.Store, opts benchOptions, limit int) ([][]byte, error) {
	n := opts.NumKeys
	if n > limit {
		n = limit
	}
	value := opts.value()
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = opts.generateKey(i)
		if err := s.Put(keys[i], value); err != nil {
			return nil, fmt.Errorf("failed to prepare key %d: %w", i, err)
		}
	}
	return keys, nil
}

func runWriteBenchmark(s *engine.Store, opts benchOptions) BenchmarkResult {
	value := opts.value()
	start := time.Now()
	deadline := start.Add(opts.Duration)

	var ops, consecutiveErrors int
	for time.Now().Before(deadline) {
		if err := s.Put(opts.generateKey(ops), value); err != nil {
			if errors.Is(err, engine.ErrStoreClosed) {
				break
			}
			fmt.Fprintf(os.Stderr, "Write error (key #%d): %v\n", ops, err)
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				fmt.Fprintf(os.Stderr, "Too many consecutive errors, stopping benchmark\n")
				break
			}
			continue
		}
		consecutiveErrors = 0
		ops++
	}

	r := opts.result("Write", ops, time.Since(start))
	r.BytesWritten = int64(ops) * int64(opts.ValueSize)
	return r
}

func runReadBenchmark(s *engine.Store, opts benchOptions) BenchmarkResult {
	keys, err := prepare(s, opts, 100000)
	if err != nil || len(keys) == 0 {
		fmt.Fprintf(os.Stderr, "Read benchmark preparation failed: %v\n", err)
		return opts.result("Read", 0, 0)
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	deadline := start.Add(opts.Duration)

	var ops, hits int
	for time.Now().Before(deadline) {
		_, err := s.Get(keys[r.Intn(len(keys))])
		if errors.Is(err, engine.ErrStoreClosed) {
			break
		}
		if err == nil {
			hits++
		}
		ops++
	}

	result := opts.result("Read", ops, time.Since(start))
	if ops > 0 {
		result.HitRate = float64(hits) / float64(ops) * 100
	}
	return result
}

func runDeleteBenchmark(s *engine.Store, opts benchOptions) BenchmarkResult {
	keys, err := prepare(s, opts, 100000)
	if err != nil || len(keys) == 0 {
		fmt.Fprintf(os.Stderr, "Delete benchmark preparation failed: %v\n", err)
		return opts.result("Delete", 0, 0)
	}

	start := time.Now()
	deadline := start.Add(opts.Duration)

	var ops int
	for ops < len(keys) && time.Now().Before(deadline) {
		if err := s.Delete(keys[ops]); err != nil {
			fmt.Fprintf(os.Stderr, "Delete error: %v\n", err)
			break
		}
		ops++
	}

	return opts.result("Delete", ops, time.Since(start))
}

func runMixedBenchmark(s *engine.Store, opts benchOptions) BenchmarkResult {
	keys, err := prepare(s, opts, 50000)
	if err != nil || len(keys) == 0 {
		fmt.Fprintf(os.Stderr, "Mixed benchmark preparation failed: %v\n", err)
		return opts.result("Mixed", 0, 0)
	}

	value := opts.value()
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	deadline := start.Add(opts.Duration)

	// 75% reads, 25% writes
	var readOps, writeOps int
	keyCounter := len(keys)
	for time.Now().Before(deadline) {
		if r.Float64() < 0.75 {
			if _, err := s.Get(keys[r.Intn(len(keys))]); errors.Is(err, engine.ErrStoreClosed) {
				break
			}
			readOps++
			continue
		}

		if err := s.Put(opts.generateKey(keyCounter), value); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			break
		}
		keyCounter++
		writeOps++
	}

	result := opts.result("Mixed", readOps+writeOps, time.Since(start))
	if total := readOps + writeOps; total > 0 {
		result.ReadRatio = float64(readOps) / float64(total) * 100
		result.WriteRatio = float64(writeOps) / float64(total) * 100
	}
	return result
}

// runCompactionBenchmark fills the heap and times explicit compactions
func runCompactionBenchmark(s *engine.Store, opts benchOptions) BenchmarkResult {
	value := opts.value()
	start := time.Now()
	deadline := start.Add(opts.Duration)

	var compactions int
	var compactTime time.Duration
	var bytesCompacted int64
	counter := 0
	for time.Now().Before(deadline) {
		batch := opts.NumKeys / 10
		if batch < 1 {
			batch = 1
		}
		for i := 0; i < batch; i++ {
			if err := s.Put(opts.generateKey(counter), value); err != nil {
				fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
				return opts.result("Compaction", compactions, time.Since(start))
			}
			counter++
		}

		// Let any threshold-triggered run finish so the timing covers one full flush
		s.WaitForCompaction()
		heapSize := s.HeapSize()

		compactStart := time.Now()
		if err := s.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "Compaction error: %v\n", err)
			break
		}
		s.WaitForCompaction()
		compactTime += time.Since(compactStart)
		bytesCompacted += heapSize
		compactions++
	}

	result := opts.result("Compaction", compactions, compactTime)
	result.BytesWritten = bytesCompacted
	result.Tables = s.TableCount()
	return result
}
