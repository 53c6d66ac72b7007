// Package record implements the two binary layouts shared by the heap log and the
// sorted tables: data records and index entries.
//
// Data record:
//
//	kLen int32 | vLen int32 | key [kLen] | value [vLen if vLen > 0]
//
// Index entry:
//
//	kLen int32 | position int64 | key [kLen]
//
// All integers are little-endian. A vLen of -1 marks a tombstone; a vLen of 0 is an
// empty value. Decoders report ErrShortRead whenever a read cannot be satisfied in
// full, which callers treat as the logical end of the data.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed prefix of a data record (kLen + vLen)
	HeaderSize = 8

	// IndexHeaderSize is the fixed prefix of an index entry (kLen + position)
	IndexHeaderSize = 12

	// TombstoneLen is the vLen sentinel written for deletions
	TombstoneLen = -1

	// MaxDisplayLength bounds key and value lengths in diagnostic output only.
	// The engine itself enforces no limit.
	MaxDisplayLength = 10000
)

var (
	// ErrShortRead indicates that fewer bytes were available than the record needs
	ErrShortRead = errors.New("short read")
	// ErrInvalidLength indicates a length field that cannot describe a record
	ErrInvalidLength = errors.New("invalid record length")
)

// DataRecord is a single key with either a value or a tombstone.
// Position is the offset of the record in the file it was read from or written to;
// it is never persisted as part of the record.
type DataRecord struct {
	Key       []byte
	Value     []byte
	Tombstone bool
	Position  int64
}

// NewValue creates a live record. A nil value is stored as an empty value.
func NewValue(key, value []byte) *DataRecord {
	if value == nil {
		value = []byte{}
	}
	return &DataRecord{Key: key, Value: value}
}

// NewTombstone creates a deletion marker for key
func NewTombstone(key []byte) *DataRecord {
	return &DataRecord{Key: key, Tombstone: true}
}

// VLen returns the value length as encoded on disk
func (r *DataRecord) VLen() int32 {
	if r.Tombstone {
		return TombstoneLen
	}
	return int32(len(r.Value))
}

// Size returns the encoded size of the record in bytes
func (r *DataRecord) Size() int64 {
	return RecordSize(len(r.Key), int(r.VLen()))
}

// RecordSize returns the encoded size of a record with the given lengths
func RecordSize(kLen, vLen int) int64 {
	if vLen < 0 {
		vLen = 0
	}
	return int64(HeaderSize + kLen + vLen)
}

// Encode serializes the record into a new buffer
func (r *DataRecord) Encode() []byte {
	buf := make([]byte, r.Size())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(len(r.Key))))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.VLen()))
	copy(buf[HeaderSize:], r.Key)
	if !r.Tombstone {
		copy(buf[HeaderSize+len(r.Key):], r.Value)
	}
	return buf
}

// WriteRecord writes the encoded record to w and returns the number of bytes written
func WriteRecord(w io.Writer, r *DataRecord) (int, error) {
	n, err := w.Write(r.Encode())
	if err != nil {
		return n, fmt.Errorf("failed to write record: %w", err)
	}
	return n, nil
}

func decodeHeader(header []byte) (int32, int32, error) {
	kLen := int32(binary.LittleEndian.Uint32(header[0:4]))
	vLen := int32(binary.LittleEndian.Uint32(header[4:8]))
	if kLen < 0 || vLen < TombstoneLen {
		return 0, 0, fmt.Errorf("%w: kLen=%d vLen=%d", ErrInvalidLength, kLen, vLen)
	}
	return kLen, vLen, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	return nil
}

// ReadRecord decodes the next record from r. The returned record's Position is zero;
// callers that track offsets set it themselves.
func ReadRecord(r io.Reader) (*DataRecord, error) {
	header := make([]byte, HeaderSize)
	if err := readFull(r, header); err != nil {
		return nil, err
	}

	kLen, vLen, err := decodeHeader(header)
	if err != nil {
		return nil, err
	}

	key := make([]byte, kLen)
	if err := readFull(r, key); err != nil {
		return nil, err
	}

	if vLen == TombstoneLen {
		return NewTombstone(key), nil
	}

	value := make([]byte, vLen)
	if err := readFull(r, value); err != nil {
		return nil, err
	}
	return NewValue(key, value), nil
}

// ReadRecordAt decodes the record that starts at pos
func ReadRecordAt(ra io.ReaderAt, pos int64) (*DataRecord, error) {
	if pos < 0 {
		return nil, fmt.Errorf("%w: negative position %d", ErrShortRead, pos)
	}

	// SectionReader turns short ReadAt results into io.EOF / io.ErrUnexpectedEOF
	// through io.ReadFull, which is what ReadRecord expects.
	sr := io.NewSectionReader(ra, pos, 1<<62)
	rec, err := ReadRecord(sr)
	if err != nil {
		return nil, err
	}
	rec.Position = pos
	return rec, nil
}

// SkipRecord reads the header and key of the next record and discards its value.
// It returns the key, whether the record is a tombstone, and the encoded size.
func SkipRecord(r io.Reader) ([]byte, bool, int64, error) {
	header := make([]byte, HeaderSize)
	if err := readFull(r, header); err != nil {
		return nil, false, 0, err
	}

	kLen, vLen, err := decodeHeader(header)
	if err != nil {
		return nil, false, 0, err
	}

	key := make([]byte, kLen)
	if err := readFull(r, key); err != nil {
		return nil, false, 0, err
	}

	if vLen > 0 {
		n, err := io.CopyN(io.Discard, r, int64(vLen))
		if err != nil {
			if err == io.EOF && n < int64(vLen) {
				err = io.ErrUnexpectedEOF
			}
			return nil, false, 0, fmt.Errorf("%w: %w", ErrShortRead, err)
		}
	}

	return key, vLen == TombstoneLen, RecordSize(int(kLen), int(vLen)), nil
}

// IndexEntry maps a key to the position of its record in a data file
type IndexEntry struct {
	Key      []byte
	Position int64
}

// Encode serializes the index entry into a new buffer
func (e *IndexEntry) Encode() []byte {
	buf := make([]byte, IndexHeaderSize+len(e.Key))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(len(e.Key))))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(e.Position))
	copy(buf[IndexHeaderSize:], e.Key)
	return buf
}

// WriteIndexEntry writes the encoded entry to w
func WriteIndexEntry(w io.Writer, e *IndexEntry) (int, error) {
	n, err := w.Write(e.Encode())
	if err != nil {
		return n, fmt.Errorf("failed to write index entry: %w", err)
	}
	return n, nil
}

// ReadIndexEntry decodes the next index entry from r
func ReadIndexEntry(r io.Reader) (*IndexEntry, error) {
	header := make([]byte, IndexHeaderSize)
	if err := readFull(r, header); err != nil {
		return nil, err
	}

	kLen := int32(binary.LittleEndian.Uint32(header[0:4]))
	if kLen < 0 {
		return nil, fmt.Errorf("%w: kLen=%d", ErrInvalidLength, kLen)
	}
	pos := int64(binary.LittleEndian.Uint64(header[4:12]))

	key := make([]byte, kLen)
	if err := readFull(r, key); err != nil {
		return nil, err
	}

	return &IndexEntry{Key: key, Position: pos}, nil
}

// IsEndOfData reports whether err marks the logical end of a record stream:
// a short read or an undecodable length at the tail.
func IsEndOfData(err error) bool {
	return errors.Is(err, ErrShortRead) || errors.Is(err, ErrInvalidLength)
}
