package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KevoDB/heapkv/pkg/heap"
	"github.com/KevoDB/heapkv/pkg/record"
	"github.com/KevoDB/heapkv/pkg/sstable"
)

// FileStats summarizes one data file
type FileStats struct {
	TotalRecords     int
	LiveRecords      int
	TombstoneRecords int
	EmptyRecords     int
	KeyBytes         int64
	ValueBytes       int64
	FileSize         int64
	// TrailingBytes counts bytes after the last complete record
	TrailingBytes int64
}

func (s *FileStats) add(o FileStats) {
	s.TotalRecords += o.TotalRecords
	s.LiveRecords += o.LiveRecords
	s.TombstoneRecords += o.TombstoneRecords
	s.EmptyRecords += o.EmptyRecords
	s.KeyBytes += o.KeyBytes
	s.ValueBytes += o.ValueBytes
	s.FileSize += o.FileSize
	s.TrailingBytes += o.TrailingBytes
}

type dumper struct {
	out         io.Writer
	showRecords bool
	showIndex   bool
}

func main() {
	summary := flag.Bool("summary", false, "Print only per-file statistics")
	index := flag.Bool("index", false, "Also dump sorted table index files")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "heapdump - print the contents of a heapkv data directory\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: heapdump [options] database_path\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	d := &dumper{out: os.Stdout, showRecords: !*summary, showIndex: *index}
	if err := d.dumpDirectory(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// dumpDirectory prints the heap log and every sorted table, newest table first
func (d *dumper) dumpDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	var total FileStats

	heapPath := filepath.Join(dir, heap.FileName)
	if _, err := os.Stat(heapPath); err == nil {
		stats, err := d.dumpDataFile(heapPath, "HEAP")
		if err != nil {
			return err
		}
		total.add(stats)
	} else {
		fmt.Fprintf(d.out, "No heap file in %s\n", dir)
	}

	tables, err := tableFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range tables {
		stats, err := d.dumpDataFile(path, "SSTABLE")
		if err != nil {
			return err
		}
		total.add(stats)

		if d.showIndex {
			indexPath, err := sstable.IndexPathFor(path)
			if err != nil {
				return err
			}
			if err := d.dumpIndexFile(indexPath); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(d.out, "\n%s\nTOTAL (%d tables)\n", strings.Repeat("=", 80), len(tables))
	d.printStats(total)
	return nil
}

// tableFiles returns table data files ordered newest first
func tableFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	type numbered struct {
		path string
		id   uint64
	}
	var found []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := sstable.ParseDataFileName(e.Name()); ok {
			found = append(found, numbered{filepath.Join(dir, e.Name()), id})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id > found[j].id })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

func (d *dumper) dumpDataFile(path, kind string) (FileStats, error) {
	var stats FileStats

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	stats.FileSize = info.Size()

	d.printHeader(path, kind)
	fmt.Fprintf(d.out, "File Size: %d bytes\n\n", stats.FileSize)

	reader := bufio.NewReader(f)
	var pos int64
	for pos < stats.FileSize {
		rec, err := record.ReadRecord(reader)
		if err != nil {
			if record.IsEndOfData(err) {
				stats.TrailingBytes = stats.FileSize - pos
				fmt.Fprintf(d.out, "Incomplete record at position %d (%d trailing bytes): %v\n\n",
					pos, stats.TrailingBytes, err)
				break
			}
			return stats, fmt.Errorf("failed to read %s at %d: %w", path, pos, err)
		}

		stats.TotalRecords++
		stats.KeyBytes += int64(len(rec.Key))
		switch {
		case rec.Tombstone:
			stats.TombstoneRecords++
		case len(rec.Value) == 0:
			stats.EmptyRecords++
			stats.LiveRecords++
		default:
			stats.LiveRecords++
			stats.ValueBytes += int64(len(rec.Value))
		}

		if d.showRecords {
			d.printRecord(stats.TotalRecords, pos, rec)
		}
		pos += rec.Size()
	}

	d.printStats(stats)
	return stats, nil
}

func (d *dumper) dumpIndexFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	d.printHeader(path, "INDEX")

	reader := bufio.NewReader(f)
	n := 0
	for {
		entry, err := record.ReadIndexEntry(reader)
		if err != nil {
			if err == io.EOF || record.IsEndOfData(err) {
				break
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		n++
		if d.showRecords {
			fmt.Fprintf(d.out, "[Index Entry #%d] Position: %d Key: %q\n", n, entry.Position, display(entry.Key))
		}
	}
	fmt.Fprintf(d.out, "Index Entries: %d\n", n)
	return nil
}

func (d *dumper) printHeader(path, kind string) {
	fmt.Fprintf(d.out, "\n%s\n%s FILE: %s\n%s\n", strings.Repeat("=", 80), kind, path, strings.Repeat("=", 80))
}

func (d *dumper) printRecord(n int, pos int64, rec *record.DataRecord) {
	fmt.Fprintf(d.out, "[Record #%d] Position: %d\n", n, pos)
	fmt.Fprintf(d.out, "  Key Length:   %d\n", len(rec.Key))
	fmt.Fprintf(d.out, "  Value Length: %d", rec.VLen())
	if rec.Tombstone {
		fmt.Fprint(d.out, " (TOMBSTONE)")
	}
	fmt.Fprintf(d.out, "\n  Key:          %q\n", display(rec.Key))

	switch {
	case rec.Tombstone:
		fmt.Fprintln(d.out, "  Value:        <DELETED>")
	case len(rec.Value) == 0:
		fmt.Fprintln(d.out, "  Value:        <EMPTY>")
	default:
		fmt.Fprintf(d.out, "  Value:        %q\n", display(rec.Value))
	}
	fmt.Fprintln(d.out)
}

func (d *dumper) printStats(s FileStats) {
	fmt.Fprintf(d.out, "Records: %d (live %d, empty %d, tombstones %d)\n",
		s.TotalRecords, s.LiveRecords, s.EmptyRecords, s.TombstoneRecords)
	fmt.Fprintf(d.out, "Key Bytes: %d, Value Bytes: %d, File Bytes: %d\n", s.KeyBytes, s.ValueBytes, s.FileSize)
	if s.TrailingBytes > 0 {
		fmt.Fprintf(d.out, "Trailing Bytes: %d\n", s.TrailingBytes)
	}
}

// display shortens b to MaxDisplayLength bytes for printing
func display(b []byte) string {
	if len(b) > record.MaxDisplayLength {
		return string(b[:record.MaxDisplayLength]) + "..."
	}
	return string(b)
}
