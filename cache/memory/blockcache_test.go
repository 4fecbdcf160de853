package memory

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/internal/testutil"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestBlockCacheReadAt(t *testing.T) {
	t.Parallel()

	data := testData(100)
	src := testutil.NewMockByteSource(data)
	c, err := New(WithMaxBlocks(8))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	wrapped, err := c.Wrap(src, cache.WithBlockSize(16))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 40)
	n, err := wrapped.ReadAt(buf, 10)
	if err != nil || n != 40 {
		t.Fatalf("ReadAt() = %d, %v", n, err)
	}
	if !bytes.Equal(buf, data[10:50]) {
		t.Fatalf("ReadAt() content mismatch")
	}
	reads := src.Reads()
	if reads != 4 {
		t.Fatalf("source reads = %d, want 4", reads)
	}

	if _, err := wrapped.ReadAt(buf, 10); err != nil {
		t.Fatalf("second ReadAt() error = %v", err)
	}
	if src.Reads() != reads {
		t.Fatalf("second ReadAt() hit the source")
	}
	if c.SizeBytes() != 64 {
		t.Fatalf("SizeBytes() = %d, want 64", c.SizeBytes())
	}
}

func TestBlockCacheShortTail(t *testing.T) {
	t.Parallel()

	data := testData(20)
	c, _ := New(WithMaxBlocks(4))
	wrapped, err := c.Wrap(testutil.NewMockByteSource(data), cache.WithBlockSize(16))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 10)
	n, err := wrapped.ReadAt(buf, 15)
	if n != 5 || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt() = %d, %v; want 5, EOF", n, err)
	}
	if !bytes.Equal(buf[:n], data[15:]) {
		t.Fatalf("ReadAt() content mismatch")
	}
}

func TestBlockCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	data := testData(64)
	src := testutil.NewMockByteSource(data)
	c, _ := New(WithMaxBlocks(2))
	wrapped, _ := c.Wrap(src, cache.WithBlockSize(16))
	one := make([]byte, 1)

	read := func(off int64) {
		t.Helper()
		if _, err := wrapped.ReadAt(one, off); err != nil {
			t.Fatalf("ReadAt(%d) error = %v", off, err)
		}
	}

	read(0)  // block 0
	read(16) // block 1
	read(0)  // touch block 0
	read(32) // block 2 evicts block 1

	before := src.Reads()
	read(0)
	if src.Reads() != before {
		t.Fatalf("block 0 was evicted")
	}
	read(16)
	if src.Reads() != before+1 {
		t.Fatalf("block 1 was not evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestBlockCacheInvalidate(t *testing.T) {
	t.Parallel()

	a := testutil.NewMockByteSource(testData(32)).WithSourceID("a")
	b := testutil.NewMockByteSource(testData(32)).WithSourceID("b")
	c, _ := New(WithMaxBlocks(4))
	wa, _ := c.Wrap(a, cache.WithBlockSize(16))
	wb, _ := c.Wrap(b, cache.WithBlockSize(16))

	buf := make([]byte, 32)
	if _, err := wa.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := wb.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", c.Len())
	}

	if err := c.Invalidate("a"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if c.Len() != 2 || c.SizeBytes() != 32 {
		t.Fatalf("after Invalidate Len() = %d SizeBytes() = %d", c.Len(), c.SizeBytes())
	}

	// Freed slots are reused before any of b's blocks.
	before := b.Reads()
	if _, err := wa.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := wb.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if b.Reads() != before {
		t.Fatalf("b's blocks were evicted")
	}
}

func TestBlockCacheInvalidateDuringFetch(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxBlocks(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	key := cache.BlockKey{SourceID: "src", BlockSize: 8, Index: 0}
	entered := make(chan struct{})
	release := make(chan struct{})

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.GetBlock(key, 8, func() ([]byte, error) {
			close(entered)
			<-release
			return []byte("oldblock"), nil
		})
		done <- result{data, err}
	}()

	<-entered
	if err := c.Invalidate("src"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	close(release)
	res := <-done
	if res.err != nil {
		t.Fatalf("GetBlock() error = %v", res.err)
	}
	if string(res.data) != "oldblock" {
		t.Fatalf("GetBlock() = %q, want %q", res.data, "oldblock")
	}
	if got := c.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0 after invalidate during fetch", got)
	}
	if got := c.SizeBytes(); got != 0 {
		t.Fatalf("SizeBytes() = %d, want 0", got)
	}

	data, err := c.GetBlock(key, 8, func() ([]byte, error) { return []byte("newblock"), nil })
	if err != nil {
		t.Fatalf("GetBlock() error = %v", err)
	}
	if string(data) != "newblock" {
		t.Fatalf("GetBlock() = %q, want %q", data, "newblock")
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestBlockCachePrune(t *testing.T) {
	t.Parallel()

	c, _ := New(WithMaxBlocks(4), WithNominalBlockSize(16))
	if c.MaxBytes() != 64 {
		t.Fatalf("MaxBytes() = %d, want 64", c.MaxBytes())
	}
	wrapped, _ := c.Wrap(testutil.NewMockByteSource(testData(64)), cache.WithBlockSize(16))
	buf := make([]byte, 64)
	if _, err := wrapped.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}

	freed, err := c.Prune(20)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if freed != 48 || c.SizeBytes() != 16 {
		t.Fatalf("Prune() freed = %d, SizeBytes() = %d", freed, c.SizeBytes())
	}
}

func TestBlockCacheSourceError(t *testing.T) {
	t.Parallel()

	src := testutil.NewMockByteSource(testData(32))
	src.FailWith(errors.New("boom"))
	c, _ := New()
	wrapped, _ := c.Wrap(src, cache.WithBlockSize(16))

	if _, err := wrapped.ReadAt(make([]byte, 4), 0); err == nil {
		t.Fatal("ReadAt() error = nil, want error")
	}
	if c.Len() != 0 {
		t.Fatalf("failed fetch was cached")
	}

	src.FailWith(nil)
	if _, err := wrapped.ReadAt(make([]byte, 4), 0); err != nil {
		t.Fatalf("ReadAt() after recovery error = %v", err)
	}
}

func TestBlockCacheRangeSource(t *testing.T) {
	t.Parallel()

	data := testData(48)
	src := testutil.NewRangeSource(data)
	c, _ := New()
	wrapped, _ := c.Wrap(src, cache.WithBlockSize(16))

	rc, err := wrapped.(cache.RangeReader).ReadRange(8, 24)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, data[8:32]) {
		t.Fatalf("ReadRange() content mismatch")
	}
	if src.RangeReads() != 2 || src.Reads() != 0 {
		t.Fatalf("range reads = %d, reads = %d", src.RangeReads(), src.Reads())
	}
}

func TestBlockCacheBypassLargeReads(t *testing.T) {
	t.Parallel()

	c, _ := New()
	wrapped, _ := c.Wrap(testutil.NewMockByteSource(testData(128)), cache.WithBlockSize(16), cache.WithMaxBlocksPerRead(2))
	if _, err := wrapped.ReadAt(make([]byte, 64), 0); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Fatalf("large read was cached")
	}
}

func TestBlockCacheConcurrent(t *testing.T) {
	t.Parallel()

	data := testData(256)
	c, _ := New(WithMaxBlocks(4))
	wrapped, _ := c.Wrap(testutil.NewMockByteSource(data), cache.WithBlockSize(16))

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 8)
			for i := range 100 {
				off := int64((g*37 + i*13) % 248)
				if _, err := wrapped.ReadAt(buf, off); err != nil {
					t.Errorf("ReadAt(%d) error = %v", off, err)
					return
				}
				if !bytes.Equal(buf, data[off:off+8]) {
					t.Errorf("ReadAt(%d) content mismatch", off)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	if _, err := New(WithMaxBlocks(0)); err == nil {
		t.Fatal("New() with zero blocks succeeded")
	}
	c, _ := New()
	if _, err := c.Wrap(nil); err == nil {
		t.Fatal("Wrap(nil) succeeded")
	}
	if _, err := c.Wrap(testutil.NewMockByteSource(nil), cache.WithBlockSize(0)); err == nil {
		t.Fatal("Wrap() with zero block size succeeded")
	}
}
