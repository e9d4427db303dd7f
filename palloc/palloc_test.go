package palloc

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberos/ember/common"
)

// refCount reads a frame's owner count.
func (a *Allocator) refCount(pa common.PhysAddr) int {
	r := &a.ref[a.index(pa)]
	r.m.Lock()
	defer r.m.Unlock()
	return r.count
}

// onFreeList walks the free list looking for the given frame.
func (a *Allocator) onFreeList(pa common.PhysAddr) bool {
	want := a.index(pa)
	a.lock.Lock()
	defer a.lock.Unlock()
	for idx := a.freehead; idx != noFrame; idx = binary.LittleEndian.Uint64(a.frame(int(idx))) {
		if int(idx) == want {
			return true
		}
	}
	return false
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := NewAllocator(4).(*Allocator)
	require.Equal(t, 4, a.FreeCount())

	pa, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, 3, a.FreeCount())
	require.Equal(t, 1, a.refCount(pa))
	require.False(t, a.onFreeList(pa))

	// Fresh frames arrive junk-filled.
	require.Equal(t, bytes.Repeat([]byte{junkAlloc}, common.PageSize), a.PageData(pa))

	a.Free(pa)
	require.Equal(t, 4, a.FreeCount())
	require.Equal(t, 0, a.refCount(pa))
	require.True(t, a.onFreeList(pa))

	// The frame went back on the head of the list, so it comes out again.
	pa2, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, pa, pa2)
}

func TestCopyOnWriteCounting(t *testing.T) {
	a := NewAllocator(2).(*Allocator)

	pa, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, 1, a.refCount(pa))

	a.IncRef(pa)
	require.Equal(t, 2, a.refCount(pa))

	// The first owner drops out; the frame stays allocated and intact.
	copy(a.PageData(pa), "shared")
	a.Free(pa)
	require.Equal(t, 1, a.refCount(pa))
	require.False(t, a.onFreeList(pa))
	require.Equal(t, []byte("shared"), a.PageData(pa)[:6])

	a.Free(pa)
	require.Equal(t, 0, a.refCount(pa))
	require.True(t, a.onFreeList(pa))
}

func TestExhaustion(t *testing.T) {
	a := NewAllocator(3)

	pages := make([]common.PhysAddr, 3)
	for i := range pages {
		pa, err := a.Alloc()
		require.NoError(t, err)
		pages[i] = pa
	}

	pa, err := a.Alloc()
	require.ErrorIs(t, err, common.ENOMEM)
	require.Equal(t, common.NO_PAGE, pa)

	// Freeing any page makes allocation possible again.
	a.Free(pages[1])
	pa, err = a.Alloc()
	require.NoError(t, err)
	require.Equal(t, pages[1], pa)
}

func TestFreeFillsJunk(t *testing.T) {
	a := NewAllocator(2).(*Allocator)

	pa, err := a.Alloc()
	require.NoError(t, err)
	copy(a.PageData(pa), "do not read after free")
	a.Free(pa)

	// Past the free-list link the frame is junk-filled.
	data := a.frame(a.index(pa))
	require.Equal(t, bytes.Repeat([]byte{junkFree}, common.PageSize-8), data[8:])
}

func TestContractViolationsAbort(t *testing.T) {
	a := NewAllocator(2).(*Allocator)

	pa, err := a.Alloc()
	require.NoError(t, err)

	require.Panics(t, func() { a.Free(pa + 1) })                               // misaligned
	require.Panics(t, func() { a.Free(common.PhysAddr(2 * common.PageSize)) }) // past the range
	require.Panics(t, func() { a.IncRef(common.PhysAddr(-common.PageSize)) })  // before the range

	a.Free(pa)
	require.Panics(t, func() { a.Free(pa) })   // double free
	require.Panics(t, func() { a.IncRef(pa) }) // incref of a free frame
}

// Frames freed and allocated from many goroutines must conserve the pool:
// no frame is lost and no frame is handed out twice.
func TestConcurrentAllocFree(t *testing.T) {
	const (
		npages  = 16
		workers = 8
		rounds  = 300
	)
	a := NewAllocator(npages).(*Allocator)

	wg := new(sync.WaitGroup)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(tag byte) {
			defer wg.Done()
			for n := 0; n < rounds; n++ {
				pa, err := a.Alloc()
				if err != nil {
					continue // pool momentarily exhausted
				}
				p := a.PageData(pa)
				p[8] = tag
				if p[8] != tag {
					t.Errorf("frame %#x shared between owners", int64(pa))
				}
				a.Free(pa)
			}
		}(byte(w + 1))
	}
	wg.Wait()

	require.Equal(t, npages, a.FreeCount())
	for idx := 0; idx < npages; idx++ {
		require.Equal(t, 0, a.ref[idx].count)
	}
}
