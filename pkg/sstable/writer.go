package sstable

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KevoDB/heapkv/pkg/record"
)

// FileManager writes one table file through a temporary file that is renamed into
// place on success
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
}

// NewFileManager creates a temporary file next to path
func NewFileManager(path string) (*FileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		buf:     bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// Write writes data at the current position
func (fm *FileManager) Write(data []byte) (int, error) {
	return fm.buf.Write(data)
}

// Sync flushes buffered data and fsyncs the file
func (fm *FileManager) Sync() error {
	if err := fm.buf.Flush(); err != nil {
		return err
	}
	return fm.file.Sync()
}

// Close closes the file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile closes the file and renames it to the final path
func (fm *FileManager) FinalizeFile() error {
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Cleanup removes the temporary file if writing is aborted
func (fm *FileManager) Cleanup() error {
	if fm.file != nil {
		fm.Close()
	}
	if err := os.Remove(fm.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Writer builds a table from records added in ascending key order
type Writer struct {
	id           uint64
	dataPath     string
	dataFile     *FileManager
	indexFile    *FileManager
	dataOffset   int64
	lastKey      []byte
	entriesAdded int
	finished     bool
}

// NewWriter creates a writer for table id in dir
func NewWriter(dir string, id uint64) (*Writer, error) {
	dataPath := filepath.Join(dir, DataFileName(id))

	dataFile, err := NewFileManager(dataPath)
	if err != nil {
		return nil, err
	}

	indexFile, err := NewFileManager(filepath.Join(dir, IndexFileName(id)))
	if err != nil {
		dataFile.Cleanup()
		return nil, err
	}

	return &Writer{
		id:        id,
		dataPath:  dataPath,
		dataFile:  dataFile,
		indexFile: indexFile,
	}, nil
}

// ID returns the number of the table being written
func (w *Writer) ID() uint64 {
	return w.id
}

// DataPath returns the final location of the data file
func (w *Writer) DataPath() string {
	return w.dataPath
}

// Entries returns the number of records added so far
func (w *Writer) Entries() int {
	return w.entriesAdded
}

// Add appends rec to the data file and its position to the index file.
// Keys must be added in strictly ascending order.
func (w *Writer) Add(rec *record.DataRecord) error {
	if w.entriesAdded > 0 && bytes.Compare(rec.Key, w.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrUnsortedKey, rec.Key, w.lastKey)
	}

	pos := w.dataOffset
	n, err := record.WriteRecord(w.dataFile, rec)
	if err != nil {
		return fmt.Errorf("failed to write table record: %w", err)
	}

	if _, err := record.WriteIndexEntry(w.indexFile, &record.IndexEntry{Key: rec.Key, Position: pos}); err != nil {
		return fmt.Errorf("failed to write table index: %w", err)
	}

	w.dataOffset += int64(n)
	w.lastKey = append(w.lastKey[:0], rec.Key...)
	w.entriesAdded++
	return nil
}

// Finish syncs both files and renames them into place. The data file is renamed
// first so that a table is never visible with an index but no data.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}

	if err := w.dataFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync table data: %w", err)
	}
	if err := w.indexFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync table index: %w", err)
	}

	if err := w.dataFile.FinalizeFile(); err != nil {
		return err
	}
	if err := w.indexFile.FinalizeFile(); err != nil {
		os.Remove(w.dataPath)
		return err
	}

	w.finished = true
	return nil
}

// Abort removes the temporary files
func (w *Writer) Abort() error {
	if w.finished {
		return nil
	}
	dataErr := w.dataFile.Cleanup()
	indexErr := w.indexFile.Cleanup()
	if dataErr != nil {
		return dataErr
	}
	return indexErr
}
