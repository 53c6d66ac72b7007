package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KevoDB/heapkv/pkg/common/log"
	"github.com/KevoDB/heapkv/pkg/heap"
	"github.com/KevoDB/heapkv/pkg/record"
	"github.com/KevoDB/heapkv/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func openTestStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(log.NewNopLogger()), WithTelemetry(telemetry.NewForTesting())}, opts...)
	s, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func compactAndWait(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.Compact())
	s.WaitForCompaction()
	require.NoError(t, s.coordinator.LastError())
}

func TestStorePutGet(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Put([]byte("name"), []byte("heapkv")))
	require.NoError(t, s.Put([]byte("empty"), []byte{}))

	value, err := s.Get([]byte("name"))
	require.NoError(t, err)
	assert.Equal(t, []byte("heapkv"), value)

	value, err = s.Get([]byte("empty"))
	require.NoError(t, err)
	assert.NotNil(t, value)
	assert.Len(t, value, 0)

	_, err = s.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStoreOverwrite(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put([]byte("key"), []byte(fmt.Sprintf("v%d", i))))
	}

	value, err := s.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "v4", string(value))
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Put([]byte("key"), []byte("value")))
	require.NoError(t, s.Delete([]byte("key")))

	_, err := s.Get([]byte("key"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting a key that never existed still succeeds
	require.NoError(t, s.Delete([]byte("never-written")))

	require.NoError(t, s.Put([]byte("key"), []byte("again")))
	value, err := s.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "again", string(value))
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	require.NoError(t, s.Delete([]byte("a")))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)

	_, err = reopened.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	value, err := reopened.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(value))
}

func TestStoreCompaction(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put([]byte(fmt.Sprintf("key-%02d", i%10)), []byte(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, s.Delete([]byte("key-03")))
	require.Greater(t, s.HeapSize(), int64(0))

	compactAndWait(t, s)

	assert.Equal(t, int64(0), s.HeapSize())
	assert.Equal(t, 1, s.TableCount())
	assert.Equal(t, CompactionIdle, s.CompactionStatus())

	for i := 10; i < 20; i++ {
		key := fmt.Sprintf("key-%02d", i%10)
		value, err := s.Get([]byte(key))
		if key == "key-03" {
			assert.ErrorIs(t, err, ErrKeyNotFound)
			continue
		}
		require.NoError(t, err, key)
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(value))
	}

	_, trace, err := s.DebugGet([]byte("key-05"))
	require.NoError(t, err)
	assert.Equal(t, LocationTable, trace.Location)
	assert.Equal(t, uint64(1), trace.TableID)
}

func TestStoreCompactEmptyHeap(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	compactAndWait(t, s)

	assert.Equal(t, 0, s.TableCount())
	completed, failed := s.coordinator.Runs()
	assert.Equal(t, uint64(1), completed)
	assert.Equal(t, uint64(0), failed)
}

func TestStoreNewestTableWins(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	require.NoError(t, s.Put([]byte("key"), []byte("old")))
	require.NoError(t, s.Put([]byte("gone"), []byte("here")))
	compactAndWait(t, s)

	require.NoError(t, s.Put([]byte("key"), []byte("new")))
	require.NoError(t, s.Delete([]byte("gone")))
	compactAndWait(t, s)

	assert.Equal(t, 2, s.TableCount())

	check := func(s *Store) {
		value, err := s.Get([]byte("key"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(value))

		_, trace, err := s.DebugGet([]byte("gone"))
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.Equal(t, LocationTable, trace.Location)
		assert.Equal(t, uint64(2), trace.TableID)
		assert.True(t, trace.Tombstone)
	}
	check(s)

	require.NoError(t, s.Close())
	check(openTestStore(t, dir))
}

func TestStoreHeapShadowsTables(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Put([]byte("key"), []byte("in-table")))
	compactAndWait(t, s)

	require.NoError(t, s.Put([]byte("key"), []byte("in-heap")))
	value, trace, err := s.DebugGet([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "in-heap", string(value))
	assert.Equal(t, LocationHeap, trace.Location)
	assert.Equal(t, int64(0), trace.HeapPosition)

	require.NoError(t, s.Delete([]byte("key")))
	_, trace, err = s.DebugGet([]byte("key"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, LocationHeap, trace.Location)
	assert.True(t, trace.Tombstone)
}

func TestStoreAutomaticCompaction(t *testing.T) {
	const threshold = 512
	s := openTestStore(t, t.TempDir(), WithCompactionThreshold(threshold))

	for round := 0; round < 2; round++ {
		for i := 0; i < 100; i++ {
			key := []byte(fmt.Sprintf("k%d", i))
			require.NoError(t, s.Put(key, []byte(fmt.Sprintf("value-%d-%d", i, round))))
		}
	}
	s.WaitForCompaction()

	require.NoError(t, s.coordinator.LastError())
	assert.GreaterOrEqual(t, s.TableCount(), 1)
	// Whatever is left in the heap never crossed the threshold
	assert.LessOrEqual(t, s.HeapSize(), int64(threshold))

	for i := 0; i < 100; i++ {
		value, err := s.Get([]byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%d-1", i), string(value))
	}

	compactAndWait(t, s)
	assert.Equal(t, int64(0), s.HeapSize())
	for i := 0; i < 100; i++ {
		value, err := s.Get([]byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%d-1", i), string(value))
	}
}

// pausingTelemetry parks the compaction run at its span until released
type pausingTelemetry struct {
	telemetry.Telemetry
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

func newPausingTelemetry() *pausingTelemetry {
	return &pausingTelemetry{
		Telemetry: telemetry.NewForTesting(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (p *pausingTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if name == "heapkv.compaction.run" {
		p.enterOnce.Do(func() { close(p.entered) })
		<-p.release
	}
	return p.Telemetry.StartSpan(ctx, name, attrs...)
}

func (p *pausingTelemetry) unpause() {
	p.releaseOnce.Do(func() { close(p.release) })
}

func TestStoreCompactionBlocksOperations(t *testing.T) {
	tel := newPausingTelemetry()
	s := openTestStore(t, t.TempDir(), WithTelemetry(tel))
	t.Cleanup(tel.unpause)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, s.Compact())

	select {
	case <-tel.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("compaction did not start")
	}
	assert.Equal(t, CompactionRunning, s.CompactionStatus())

	type lookup struct {
		value []byte
		trace Trace
		err   error
	}
	getDone := make(chan lookup, 1)
	go func() {
		value, trace, err := s.DebugGet([]byte("k3"))
		getDone <- lookup{value, trace, err}
	}()
	putDone := make(chan error, 1)
	go func() {
		putDone <- s.Put([]byte("late"), []byte("after"))
	}()

	select {
	case <-getDone:
		t.Fatal("read finished while compaction was running")
	case err := <-putDone:
		t.Fatalf("write finished while compaction was running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	tel.unpause()

	got := <-getDone
	require.NoError(t, got.err)
	assert.Equal(t, "v3", string(got.value))
	// The read ran after the heap was flushed and the new table linked
	assert.Equal(t, LocationTable, got.trace.Location)
	assert.Equal(t, uint64(1), got.trace.TableID)

	require.NoError(t, <-putDone)
	s.WaitForCompaction()
	require.NoError(t, s.coordinator.LastError())

	assert.Equal(t, 1, s.TableCount())
	_, trace, err := s.DebugGet([]byte("late"))
	require.NoError(t, err)
	// The write landed at the start of the reset heap
	assert.Equal(t, LocationHeap, trace.Location)
	assert.Equal(t, int64(0), trace.HeapPosition)
	assert.Equal(t, record.RecordSize(len("late"), len("after")), s.HeapSize())
}

func TestStoreDropObsoleteTombstones(t *testing.T) {
	s := openTestStore(t, t.TempDir(), WithDropObsoleteTombstones(true))

	require.NoError(t, s.Put([]byte("transient"), []byte("v")))
	require.NoError(t, s.Delete([]byte("transient")))
	compactAndWait(t, s)

	// Nothing older holds the key, so the tombstone is dropped and no table is written
	assert.Equal(t, 0, s.TableCount())

	require.NoError(t, s.Put([]byte("kept"), []byte("v")))
	compactAndWait(t, s)
	require.NoError(t, s.Delete([]byte("kept")))
	compactAndWait(t, s)

	assert.Equal(t, 2, s.TableCount())
	_, err := s.Get([]byte("kept"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStoreTruncatedHeapTail(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	good := s.HeapSize()
	require.NoError(t, s.Close())

	torn := record.NewValue([]byte("partial"), []byte("value")).Encode()
	f, err := os.OpenFile(filepath.Join(dir, heap.FileName), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(torn[:len(torn)-2])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Open(dir, WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	assert.Equal(t, good, s.HeapSize())

	_, err = s.Get([]byte("partial"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Put([]byte("c"), []byte("3")))
	recovery := s.GetStats()["recovery"].(map[string]interface{})
	assert.Equal(t, uint64(len(torn)-2), recovery["bytes_discarded"])
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)
	for key, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		value, err := reopened.Get([]byte(key))
		require.NoError(t, err, key)
		assert.Equal(t, want, string(value))
	}
}

func TestStoreOptionsPersisted(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithLogger(log.NewNopLogger()), WithCompactionThreshold(4096), WithBloomBitsPerKey(0))
	require.NoError(t, err)
	storeID := s.Config().StoreID
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dir)
	cfg := reopened.Config()
	assert.Equal(t, int64(4096), cfg.CompactionThreshold)
	assert.Equal(t, 0, cfg.BloomBitsPerKey)
	assert.Equal(t, storeID, cfg.StoreID)
}

func TestStoreInvalidOption(t *testing.T) {
	_, err := Open(t.TempDir(), WithLogger(log.NewNopLogger()), WithCompactionThreshold(0))
	require.Error(t, err)
}

func TestStoreClosed(t *testing.T) {
	s, err := Open(t.TempDir(), WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("key"), []byte("value")))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put([]byte("key"), []byte("value")), ErrStoreClosed)
	assert.ErrorIs(t, s.Delete([]byte("key")), ErrStoreClosed)
	assert.ErrorIs(t, s.Compact(), ErrStoreClosed)
	_, err = s.Get([]byte("key"))
	assert.ErrorIs(t, err, ErrStoreClosed)

	assert.NoError(t, s.Close())
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := openTestStore(t, t.TempDir(), WithCompactionThreshold(2048))

	const writers = 4
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-key-%03d", w, i))
				if err := s.Put(key, []byte(fmt.Sprintf("%d", i))); err != nil {
					t.Errorf("put failed: %v", err)
					return
				}
				if _, err := s.Get(key); err != nil {
					t.Errorf("get after put failed for %s: %v", key, err)
					return
				}
				if i%10 == 0 {
					s.CompactionStatus()
				}
			}
		}(w)
	}
	wg.Wait()
	s.WaitForCompaction()

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			value, err := s.Get([]byte(fmt.Sprintf("w%d-key-%03d", w, i)))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%d", i), string(value))
		}
	}
}

func TestStoreStats(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	_, _ = s.Get([]byte("a"))
	_, _ = s.Get([]byte("missing"))
	compactAndWait(t, s)
	_, _ = s.Get([]byte("a"))

	st := s.GetStats()
	assert.Equal(t, uint64(1), st["put_ops"])
	assert.Equal(t, uint64(3), st["get_ops"])
	assert.Equal(t, uint64(1), st["compaction_count"])
	assert.Equal(t, uint64(1), st["table_count"])
	assert.Equal(t, "idle", st["compaction_status"])

	lookups := st["lookup"].(map[string]uint64)
	assert.Equal(t, uint64(1), lookups["heap_hits"])
	assert.Equal(t, uint64(1), lookups["table_hits"])
	assert.Equal(t, uint64(1), lookups["misses"])
}
