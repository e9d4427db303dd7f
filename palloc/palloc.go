// Package palloc implements the physical page allocator: a fixed contiguous
// range of page frames handed out with per-frame reference counts, so that
// copy-on-write callers can share one frame between several owners and the
// frame returns to the free list only when the last owner frees it.
package palloc

import (
	"encoding/binary"
	"sync"

	"github.com/lpabon/godbc"

	"github.com/emberos/ember/common"
)

// Fill patterns written over frame contents to catch use of uninitialized
// or dangling pages.
const (
	junkAlloc = 5
	junkFree  = 1
)

// End-of-list marker for the free list, which is threaded through the first
// eight bytes of each free frame's own memory.
const noFrame = ^uint64(0)

// Allocator manages the page frames carved from one contiguous memory range.
// The reference count of each frame has its own lock, so counts on different
// frames never contend; the free-list linkage is guarded by a single lock.
// A frame's count is always decided under its counter lock before the
// free-list lock is taken for the splice, never the other way around.
type Allocator struct {
	mem []byte // the managed range, npages * PageSize bytes

	lock     sync.Mutex // guards freehead, nfree and the in-frame links
	freehead uint64     // frame index of the first free frame, or noFrame
	nfree    int

	ref []refcount // one per frame
}

// refcount is a frame's owner count together with the lock guarding it.
type refcount struct {
	m     sync.Mutex
	count int
}

// NewAllocator carves npages page frames out of a fresh memory range, all of
// them free.
func NewAllocator(npages int) common.PageAllocator {
	a := &Allocator{
		mem:      make([]byte, npages*common.PageSize),
		freehead: noFrame,
		ref:      make([]refcount, npages),
	}
	for idx := npages - 1; idx >= 0; idx-- {
		p := a.frame(idx)
		fill(p, junkFree)
		binary.LittleEndian.PutUint64(p, a.freehead)
		a.freehead = uint64(idx)
	}
	a.nfree = npages
	return a
}

// Alloc hands out one page frame with a single owner and its contents
// junk-filled. Returns NO_PAGE and ENOMEM when every frame is in use.
func (a *Allocator) Alloc() (common.PhysAddr, error) {
	a.lock.Lock()
	if a.freehead == noFrame {
		a.lock.Unlock()
		return common.NO_PAGE, common.ENOMEM
	}
	idx := int(a.freehead)
	a.freehead = binary.LittleEndian.Uint64(a.frame(idx))
	a.nfree--
	a.lock.Unlock()

	fill(a.frame(idx), junkAlloc)

	r := &a.ref[idx]
	r.m.Lock()
	r.count = 1
	r.m.Unlock()

	return common.PhysAddr(idx * common.PageSize), nil
}

// Free drops one owner of the frame. The frame returns to the free list,
// junk-filled, only when its last owner is gone. Freeing a frame that has no
// owners is a bug in the caller.
func (a *Allocator) Free(pa common.PhysAddr) {
	idx := a.index(pa)

	r := &a.ref[idx]
	r.m.Lock()
	defer r.m.Unlock()
	godbc.Require(r.count > 0, "palloc: free of unreferenced frame", idx)
	r.count--
	if r.count == 0 {
		// Junk-fill before relinking; the link itself lives in the frame.
		p := a.frame(idx)
		fill(p, junkFree)
		a.lock.Lock()
		binary.LittleEndian.PutUint64(p, a.freehead)
		a.freehead = uint64(idx)
		a.nfree++
		a.lock.Unlock()
	}
}

// IncRef records another owner of an already-allocated frame, as when two
// address spaces come to share a page copy-on-write.
func (a *Allocator) IncRef(pa common.PhysAddr) {
	idx := a.index(pa)
	r := &a.ref[idx]
	r.m.Lock()
	defer r.m.Unlock()
	godbc.Require(r.count > 0, "palloc: incref of free frame", idx)
	r.count++
}

// PageData returns the frame's memory.
func (a *Allocator) PageData(pa common.PhysAddr) []byte {
	return a.frame(a.index(pa))
}

// FreeCount reports how many frames are currently on the free list.
func (a *Allocator) FreeCount() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.nfree
}

// index validates a physical address and converts it to a frame index. A
// misaligned or out-of-range address is a bug in the caller.
func (a *Allocator) index(pa common.PhysAddr) int {
	godbc.Require(pa%common.PageSize == 0, "palloc: misaligned address", pa)
	godbc.Require(pa >= 0 && pa < common.PhysAddr(len(a.mem)), "palloc: address out of range", pa)
	return int(pa / common.PageSize)
}

func (a *Allocator) frame(idx int) []byte {
	off := idx * common.PageSize
	return a.mem[off : off+common.PageSize]
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}
