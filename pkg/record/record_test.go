package record

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRecordEncodingLayout(t *testing.T) {
	rec := NewValue([]byte("key"), []byte("value"))
	buf := rec.Encode()

	if int64(len(buf)) != rec.Size() {
		t.Fatalf("expected %d bytes, got %d", rec.Size(), len(buf))
	}
	if rec.Size() != 8+3+5 {
		t.Errorf("expected size 16, got %d", rec.Size())
	}

	expected := []byte{3, 0, 0, 0, 5, 0, 0, 0, 'k', 'e', 'y', 'v', 'a', 'l', 'u', 'e'}
	if !bytes.Equal(buf, expected) {
		t.Errorf("unexpected encoding: %v", buf)
	}

	tomb := NewTombstone([]byte("key"))
	buf = tomb.Encode()
	expected = []byte{3, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 'k', 'e', 'y'}
	if !bytes.Equal(buf, expected) {
		t.Errorf("unexpected tombstone encoding: %v", buf)
	}
	if tomb.VLen() != TombstoneLen {
		t.Errorf("expected vLen %d, got %d", TombstoneLen, tomb.VLen())
	}
}

func TestReadRecordKinds(t *testing.T) {
	testCases := []struct {
		name string
		rec  *DataRecord
	}{
		{"value", NewValue([]byte("a"), []byte("hello"))},
		{"empty value", NewValue([]byte("b"), []byte{})},
		{"nil value", NewValue([]byte("c"), nil)},
		{"tombstone", NewTombstone([]byte("d"))},
		{"empty key", NewValue([]byte{}, []byte("v"))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := WriteRecord(&buf, tc.rec); err != nil {
				t.Fatalf("write failed: %v", err)
			}

			got, err := ReadRecord(&buf)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}

			if !bytes.Equal(got.Key, tc.rec.Key) {
				t.Errorf("expected key %q, got %q", tc.rec.Key, got.Key)
			}
			if got.Tombstone != tc.rec.Tombstone {
				t.Errorf("expected tombstone=%v, got %v", tc.rec.Tombstone, got.Tombstone)
			}
			if !tc.rec.Tombstone {
				if got.Value == nil {
					t.Errorf("expected non-nil value for live record")
				}
				if !bytes.Equal(got.Value, tc.rec.Value) {
					t.Errorf("expected value %q, got %q", tc.rec.Value, got.Value)
				}
			}
		})
	}
}

func TestReadRecordAt(t *testing.T) {
	var buf bytes.Buffer
	recs := []*DataRecord{
		NewValue([]byte("first"), []byte("1")),
		NewTombstone([]byte("second")),
		NewValue([]byte("third"), []byte("333")),
	}

	positions := make([]int64, len(recs))
	for i, r := range recs {
		positions[i] = int64(buf.Len())
		if _, err := WriteRecord(&buf, r); err != nil {
			t.Fatal(err)
		}
	}

	data := bytes.NewReader(buf.Bytes())
	for i, pos := range positions {
		got, err := ReadRecordAt(data, pos)
		if err != nil {
			t.Fatalf("read at %d failed: %v", pos, err)
		}
		if !bytes.Equal(got.Key, recs[i].Key) {
			t.Errorf("expected key %q at %d, got %q", recs[i].Key, pos, got.Key)
		}
		if got.Position != pos {
			t.Errorf("expected position %d, got %d", pos, got.Position)
		}
	}

	if _, err := ReadRecordAt(data, int64(buf.Len())); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead at EOF, got %v", err)
	}
	if _, err := ReadRecordAt(data, -1); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead for negative position, got %v", err)
	}
}

func TestTruncatedRecord(t *testing.T) {
	full := NewValue([]byte("key"), []byte("some value")).Encode()

	for cut := 1; cut < len(full); cut++ {
		_, err := ReadRecord(bytes.NewReader(full[:cut]))
		if !errors.Is(err, ErrShortRead) {
			t.Fatalf("cut=%d: expected ErrShortRead, got %v", cut, err)
		}
		if !IsEndOfData(err) {
			t.Fatalf("cut=%d: expected end of data", cut)
		}
	}

	_, err := ReadRecord(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected clean io.EOF on empty input, got %v", err)
	}
}

func TestInvalidLength(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}
	if _, err := ReadRecord(bytes.NewReader(buf)); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength for negative kLen, got %v", err)
	}

	buf = []byte{1, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff, 'k'}
	if _, err := ReadRecord(bytes.NewReader(buf)); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength for vLen -2, got %v", err)
	}
}

func TestSkipRecord(t *testing.T) {
	var buf bytes.Buffer
	WriteRecord(&buf, NewValue([]byte("alpha"), []byte("a long value that is skipped")))
	WriteRecord(&buf, NewTombstone([]byte("beta")))

	key, tomb, n, err := SkipRecord(&buf)
	if err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if string(key) != "alpha" || tomb || n != RecordSize(5, 28) {
		t.Errorf("unexpected skip result: key=%q tomb=%v n=%d", key, tomb, n)
	}

	key, tomb, n, err = SkipRecord(&buf)
	if err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if string(key) != "beta" || !tomb || n != RecordSize(4, -1) {
		t.Errorf("unexpected skip result: key=%q tomb=%v n=%d", key, tomb, n)
	}

	// Value bytes missing from the tail
	partial := NewValue([]byte("k"), []byte("0123456789")).Encode()
	if _, _, _, err := SkipRecord(bytes.NewReader(partial[:len(partial)-3])); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead for truncated value, got %v", err)
	}
}

func TestIndexEntry(t *testing.T) {
	var buf bytes.Buffer
	entries := []*IndexEntry{
		{Key: []byte("a"), Position: 0},
		{Key: []byte("b"), Position: 1 << 33},
	}
	for _, e := range entries {
		if _, err := WriteIndexEntry(&buf, e); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range entries {
		got, err := ReadIndexEntry(&buf)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if !bytes.Equal(got.Key, want.Key) || got.Position != want.Position {
			t.Errorf("expected %q@%d, got %q@%d", want.Key, want.Position, got.Key, got.Position)
		}
	}

	if _, err := ReadIndexEntry(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last entry, got %v", err)
	}
}
