package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"

	"github.com/KevoDB/heapkv/pkg/common/log"
	"github.com/KevoDB/heapkv/pkg/engine"
	"github.com/KevoDB/heapkv/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".status"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DGET"),
	readline.PcItem("DEL"),
	readline.PcItem("COMPACT"),
)

const helpText = `
heapkv - an embedded log-structured key-value store.

Usage:
  heapkv [options] [database_path]  - Start with an optional database path

Commands:
  .help                   - Show this help message
  .open PATH              - Open a database at PATH
  .close                  - Close the current database
  .exit                   - Exit the program (also: quit, exit)
  .stats                  - Show database statistics
  .status                 - Show heap size, table count and compaction state

  PUT key value           - Store a key-value pair
  GET key                 - Retrieve a value by key
  DGET key                - Retrieve a value and show where it was found
  DEL key                 - Delete a key
  COMPACT                 - Start a background compaction

Keys and values may be quoted: PUT "my key" 'a value with spaces'
`

// shell holds the state of one interactive session
type shell struct {
	store  *engine.Store
	dbPath string
	out    io.Writer
	opts   []engine.Option
}

func main() {
	verbose := flag.Bool("verbose", false, "Log engine activity to stderr")
	threshold := flag.Int64("compaction-threshold", 0, "Heap size in bytes that triggers compaction (0 keeps the stored setting)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "heapkv - an embedded log-structured key-value store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: heapkv [options] [database_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor more details, start heapkv and type .help\n")
	}
	flag.Parse()

	level := log.LevelWarn
	if *verbose {
		level = log.LevelInfo
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	defer logger.Sync()

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(telCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	sh := &shell{out: os.Stdout, opts: []engine.Option{engine.WithLogger(logger), engine.WithTelemetry(tel)}}
	if *threshold > 0 {
		sh.opts = append(sh.opts, engine.WithCompactionThreshold(*threshold))
	}

	if flag.NArg() > 0 {
		if err := sh.open(flag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
			os.Exit(1)
		}
	}
	defer sh.close()

	runInteractive(sh)
}

// runInteractive reads commands until EOF or an exit command
func runInteractive(sh *shell) {
	fmt.Println("heapkv version 0.1.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".heapkv_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "heapkv> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		if sh.dbPath != "" {
			rl.SetPrompt(fmt.Sprintf("heapkv:%s> ", sh.dbPath))
		} else {
			rl.SetPrompt("heapkv> ")
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if !sh.execute(line) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

// execute runs one command line and reports whether the session should continue
func (sh *shell) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	parts, err := shellquote.Split(line)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %s\n", err)
		return true
	}
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToUpper(parts[0])
	args := parts[1:]

	switch cmd {
	case ".EXIT", "QUIT", "EXIT":
		return false
	case ".HELP":
		fmt.Fprint(sh.out, helpText)
		return true
	case ".OPEN":
		if len(args) != 1 {
			fmt.Fprintln(sh.out, "Error: Usage: .open PATH")
			return true
		}
		sh.close()
		if err := sh.open(args[0]); err != nil {
			fmt.Fprintf(sh.out, "Error opening database: %s\n", err)
			return true
		}
		fmt.Fprintf(sh.out, "Database opened at %s\n", sh.dbPath)
		return true
	}

	if sh.store == nil {
		fmt.Fprintln(sh.out, "No database open")
		return true
	}

	switch cmd {
	case ".CLOSE":
		path := sh.dbPath
		if err := sh.close(); err != nil {
			fmt.Fprintf(sh.out, "Error closing database: %s\n", err)
		} else {
			fmt.Fprintf(sh.out, "Database %s closed\n", path)
		}

	case ".STATS":
		sh.printStats()

	case ".STATUS":
		fmt.Fprintf(sh.out, "Heap size: %d bytes\n", sh.store.HeapSize())
		fmt.Fprintf(sh.out, "Tables: %d\n", sh.store.TableCount())
		fmt.Fprintf(sh.out, "Compaction: %s\n", sh.store.CompactionStatus())

	case "PUT":
		if len(args) != 2 {
			fmt.Fprintln(sh.out, "Error: Usage: PUT key value")
			return true
		}
		if err := sh.store.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
			return true
		}
		fmt.Fprintln(sh.out, "Value stored")

	case "GET":
		if len(args) != 1 {
			fmt.Fprintln(sh.out, "Error: Usage: GET key")
			return true
		}
		value, err := sh.store.Get([]byte(args[0]))
		sh.printValue(value, err)

	case "DGET":
		if len(args) != 1 {
			fmt.Fprintln(sh.out, "Error: Usage: DGET key")
			return true
		}
		value, trace, err := sh.store.DebugGet([]byte(args[0]))
		sh.printValue(value, err)
		fmt.Fprintf(sh.out, "Resolved at: %s\n", trace)

	case "DEL", "DELETE":
		if len(args) != 1 {
			fmt.Fprintln(sh.out, "Error: Usage: DEL key")
			return true
		}
		if err := sh.store.Delete([]byte(args[0])); err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
			return true
		}
		fmt.Fprintln(sh.out, "Key deleted")

	case "COMPACT":
		if err := sh.store.Compact(); err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
			return true
		}
		fmt.Fprintln(sh.out, "Compaction requested")

	default:
		fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
	}

	return true
}

func (sh *shell) printValue(value []byte, err error) {
	switch {
	case errors.Is(err, engine.ErrKeyNotFound):
		fmt.Fprintln(sh.out, "Key not found")
	case err != nil:
		fmt.Fprintf(sh.out, "Error: %s\n", err)
	default:
		fmt.Fprintf(sh.out, "%q\n", value)
	}
}

func (sh *shell) open(path string) error {
	store, err := engine.Open(path, sh.opts...)
	if err != nil {
		return err
	}
	sh.store = store
	sh.dbPath = path
	return nil
}

func (sh *shell) close() error {
	if sh.store == nil {
		return nil
	}
	err := sh.store.Close()
	sh.store = nil
	sh.dbPath = ""
	return err
}

func (sh *shell) printStats() {
	stats := sh.store.GetStats()

	getUint64 := func(key string) uint64 {
		switch v := stats[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		default:
			return 0
		}
	}

	fmt.Fprintln(sh.out, "Operations:")
	fmt.Fprintf(sh.out, "  Puts: %d\n", getUint64("put_ops"))
	fmt.Fprintf(sh.out, "  Gets: %d\n", getUint64("get_ops"))
	fmt.Fprintf(sh.out, "  Deletes: %d\n", getUint64("delete_ops"))

	if lookups, ok := stats["lookup"].(map[string]uint64); ok {
		fmt.Fprintf(sh.out, "  Lookups: heap %d, tables %d, misses %d\n",
			lookups["heap_hits"], lookups["table_hits"], lookups["misses"])
	}

	if ts, ok := stats["last_put_time"].(int64); ok && ts > 0 {
		fmt.Fprintf(sh.out, "  Last Put: %s\n", time.Unix(0, ts).Format(time.RFC3339))
	}

	fmt.Fprintln(sh.out, "\nStorage:")
	fmt.Fprintf(sh.out, "  Heap Size: %d bytes\n", getUint64("heap_size"))
	fmt.Fprintf(sh.out, "  Tables: %d\n", getUint64("table_count"))
	fmt.Fprintf(sh.out, "  Bytes Written: %d\n", getUint64("total_bytes_written"))
	fmt.Fprintf(sh.out, "  Bytes Read: %d\n", getUint64("total_bytes_read"))

	fmt.Fprintln(sh.out, "\nCompaction:")
	fmt.Fprintf(sh.out, "  Status: %v\n", stats["compaction_status"])
	fmt.Fprintf(sh.out, "  Completed: %v\n", stats["compactions_completed"])
	fmt.Fprintf(sh.out, "  Failed: %v\n", stats["compactions_failed"])
	if lastErr, ok := stats["compaction_last_error"]; ok {
		fmt.Fprintf(sh.out, "  Last Error: %v\n", lastErr)
	}

	if errs, ok := stats["errors"].(map[string]uint64); ok && len(errs) > 0 {
		fmt.Fprintln(sh.out, "\nErrors:")
		names := make([]string, 0, len(errs))
		for name := range errs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(sh.out, "  %s: %d\n", name, errs[name])
		}
	}
}
