// Package bcache implements the kernel's block buffer cache: a fixed pool of
// in-memory block copies shared by every filesystem caller.
//
// The pool is sharded into 13 hash buckets, each a doubly linked list of
// slots ordered by recency and guarded by its own lock, so cache hits in
// different buckets never contend. A single eviction lock serializes cache
// misses: the victim search walks the other buckets one at a time, taking at
// most one foreign bucket lock while the eviction lock is held, so no cycle
// of lock waits can form. Each slot's contents are guarded separately by a
// sleep lock held from Get/Read until Put.
package bcache

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/lpabon/godbc"

	"github.com/emberos/ember/common"
)

// A cache slot, decorated with the members we need to handle the bucketed
// LRU policy. Slots live in a fixed arena and bucket membership is expressed
// with arena indices rather than pointers; each bucket's sentinel occupies
// one of the tail entries of the same arena, so list splicing is uniform.
type slot struct {
	*common.CacheBlock

	valid bool   // whether the contents reflect the on-disk block
	count int    // the number of clients of this block
	stamp uint64 // logical clock value of the last acquisition

	lock *common.SleepLock // serializes access to the block contents

	prev, next int // bucket list links, most recently used first
}

type LRUCache struct {
	devlock sync.Mutex
	devices []common.BlockDevice
	devinfo []*common.DeviceInfo

	blocksize int
	nslots    int
	clock     common.Clock
	ticks     atomic.Uint64 // fallback logical clock

	lock    sync.Mutex                    // serializes miss handling and eviction scans
	buckets [common.NumBuckets]sync.Mutex // one per bucket list
	slots   []slot                        // nslots entries plus one sentinel per bucket
}

// NewLRUCache creates a cache of numslots buffers of the given block size,
// serving up to numdevices mounted devices. The clock stamps acquisitions
// for diagnostics; pass nil to use an internal counter.
func NewLRUCache(numdevices, numslots, blocksize int, clock common.Clock) common.BlockCache {
	c := &LRUCache{
		devices:   make([]common.BlockDevice, numdevices),
		devinfo:   make([]*common.DeviceInfo, numdevices),
		blocksize: blocksize,
		nslots:    numslots,
		clock:     clock,
		slots:     make([]slot, numslots+common.NumBuckets),
	}
	if c.clock == nil {
		c.clock = func() uint64 { return c.ticks.Add(1) }
	}

	// Each bucket starts out as an empty circular list.
	for b := 0; b < common.NumBuckets; b++ {
		s := c.sentinel(b)
		c.slots[s].prev = s
		c.slots[s].next = s
	}

	// Create the buffers ahead of time and deal them out round-robin across
	// the buckets.
	for i := 0; i < numslots; i++ {
		c.slots[i].CacheBlock = &common.CacheBlock{
			Block:  make(common.Block, blocksize),
			Devnum: common.NO_DEV,
			Buf:    i,
		}
		c.slots[i].lock = common.NewSleepLock("buffer")
		c.insertFront(i%common.NumBuckets, i)
	}

	return c
}

// sentinel returns the arena index of bucket b's list head.
func (c *LRUCache) sentinel(b int) int {
	return c.nslots + b
}

// bucketFor hashes a (devnum, blockno) key onto one of the bucket lists.
func bucketFor(devnum, blockno int) int {
	var key [16]byte
	binary.LittleEndian.PutUint64(key[0:], uint64(devnum))
	binary.LittleEndian.PutUint64(key[8:], uint64(blockno))
	return int(xxhash.Sum64(key[:]) % common.NumBuckets)
}

// unlink removes slot i from whichever bucket list it is on. The caller must
// hold that bucket's lock.
func (c *LRUCache) unlink(i int) {
	c.slots[c.slots[i].prev].next = c.slots[i].next
	c.slots[c.slots[i].next].prev = c.slots[i].prev
}

// insertFront splices slot i in at the most-recently-used end of bucket b.
// The caller must hold the bucket's lock.
func (c *LRUCache) insertFront(b, i int) {
	s := c.sentinel(b)
	c.slots[i].next = c.slots[s].next
	c.slots[i].prev = s
	c.slots[c.slots[s].next].prev = i
	c.slots[s].next = i
}

// findIn scans bucket b for a slot bound to (devnum, blockno), returning -1
// if the block is not cached there. The caller must hold the bucket's lock.
func (c *LRUCache) findIn(b, devnum, blockno int) int {
	s := c.sentinel(b)
	for i := c.slots[s].next; i != s; i = c.slots[i].next {
		if c.slots[i].Devnum == devnum && c.slots[i].Blockno == blockno {
			return i
		}
	}
	return -1
}

// GetBlock returns a buffer bound to the given block, with the contents
// locked for the caller's exclusive use. The contents are not read from the
// device; use ReadBlock for that. Blocks if another caller currently holds
// the buffer. Panics if every buffer in the pool is held: the pool must be
// provisioned so that never happens.
func (c *LRUCache) GetBlock(devnum, blockno int) *common.CacheBlock {
	b := bucketFor(devnum, blockno)

	// A hit needs only the home bucket's lock.
	c.buckets[b].Lock()
	if i := c.findIn(b, devnum, blockno); i >= 0 {
		c.slots[i].count++
		c.slots[i].stamp = c.clock()
		c.buckets[b].Unlock()
		c.slots[i].lock.Acquire()
		return c.slots[i].CacheBlock
	}
	c.buckets[b].Unlock()

	// Not cached. The eviction lock serializes all misses. Between dropping
	// the bucket lock above and acquiring it again here, another caller may
	// have bound this same block, so scan the home bucket once more before
	// recycling anything.
	c.lock.Lock()
	c.buckets[b].Lock()
	if i := c.findIn(b, devnum, blockno); i >= 0 {
		c.slots[i].count++
		c.slots[i].stamp = c.clock()
		c.buckets[b].Unlock()
		c.lock.Unlock()
		c.slots[i].lock.Acquire()
		return c.slots[i].CacheBlock
	}

	// Recycle the least recently used unheld buffer of some other bucket.
	// At most one foreign bucket lock is held at a time, and only while the
	// eviction lock is held, so concurrent misses cannot form a cycle of
	// lock waits. The home bucket is skipped: its lock is already held.
	for fb := 0; fb < common.NumBuckets; fb++ {
		if fb == b {
			continue
		}
		c.buckets[fb].Lock()
		s := c.sentinel(fb)
		for i := c.slots[s].prev; i != s; i = c.slots[i].prev {
			if c.slots[i].count != 0 {
				continue
			}
			c.unlink(i)
			c.insertFront(b, i)
			c.slots[i].Devnum = devnum
			c.slots[i].Blockno = blockno
			c.slots[i].valid = false
			c.slots[i].count = 1
			c.slots[i].stamp = c.clock()
			c.buckets[b].Unlock()
			c.buckets[fb].Unlock()
			c.lock.Unlock()
			c.slots[i].lock.Acquire()
			return c.slots[i].CacheBlock
		}
		c.buckets[fb].Unlock()
	}

	// Release the locks so a test harness can intercept the abort.
	c.buckets[b].Unlock()
	c.lock.Unlock()
	panic("bcache: all buffers in use")
}

// ReadBlock returns a locked buffer with the contents of the given block,
// reading from the device only if the block is not already cached.
func (c *LRUCache) ReadBlock(devnum, blockno int) *common.CacheBlock {
	cb := c.GetBlock(devnum, blockno)
	i := cb.Buf.(int)
	if !c.slots[i].valid {
		dev, info := c.device(devnum)
		pos := int64(info.Blocksize) * int64(blockno)
		if err := dev.Read(cb.Block, pos); err != nil {
			panic(fmt.Sprintf("bcache: read %d/%d: %s", devnum, blockno, err))
		}
		c.slots[i].valid = true
	}
	return cb
}

// WriteBlock writes the buffer's contents through to the device. The caller
// must hold the buffer's content lock.
func (c *LRUCache) WriteBlock(cb *common.CacheBlock) {
	i := cb.Buf.(int)
	godbc.Require(c.slots[i].lock.Held(), "bcache: write of unlocked buffer")
	dev, info := c.device(cb.Devnum)
	pos := int64(info.Blocksize) * int64(cb.Blockno)
	if err := dev.Write(cb.Block, pos); err != nil {
		panic(fmt.Sprintf("bcache: write %d/%d: %s", cb.Devnum, cb.Blockno, err))
	}
}

// PutBlock releases the caller's hold on a buffer. Once the last holder is
// gone the slot moves to the most-recently-used end of its bucket, where it
// becomes eligible for recycling; the handle must not be used after release.
func (c *LRUCache) PutBlock(cb *common.CacheBlock) {
	i := cb.Buf.(int)
	godbc.Require(c.slots[i].lock.Held(), "bcache: release of unlocked buffer")
	c.slots[i].lock.Release()

	b := bucketFor(cb.Devnum, cb.Blockno)
	c.buckets[b].Lock()
	c.slots[i].count--
	if c.slots[i].count == 0 {
		// no one is waiting for it
		c.unlink(i)
		c.insertFront(b, i)
	}
	c.buckets[b].Unlock()
}

// PinBlock takes an extra reference on a held buffer without touching its
// content lock, keeping it resident across logically related operations.
func (c *LRUCache) PinBlock(cb *common.CacheBlock) {
	i := cb.Buf.(int)
	b := bucketFor(cb.Devnum, cb.Blockno)
	c.buckets[b].Lock()
	defer c.buckets[b].Unlock()
	c.slots[i].count++
	c.slots[i].stamp = c.clock()
}

// UnpinBlock drops a reference taken with PinBlock.
func (c *LRUCache) UnpinBlock(cb *common.CacheBlock) {
	i := cb.Buf.(int)
	b := bucketFor(cb.Devnum, cb.Blockno)
	c.buckets[b].Lock()
	defer c.buckets[b].Unlock()
	godbc.Require(c.slots[i].count > 0, "bcache: unpin of unreferenced buffer")
	c.slots[i].count--
}

// MountDevice attaches a device to the cache under the given device number.
func (c *LRUCache) MountDevice(devnum int, dev common.BlockDevice, info *common.DeviceInfo) error {
	if info.Blocksize != c.blocksize {
		return common.EINVAL
	}
	c.devlock.Lock()
	defer c.devlock.Unlock()
	if devnum < 0 || devnum >= len(c.devices) {
		return common.EINVAL
	}
	if c.devices[devnum] != nil {
		return common.EBUSY
	}
	c.devices[devnum] = dev
	c.devinfo[devnum] = info
	return nil
}

// UnmountDevice detaches a device, invalidating its cached blocks. Fails
// with EBUSY while any of the device's blocks are still held.
func (c *LRUCache) UnmountDevice(devnum int) error {
	// Hold the eviction lock so no buffer can be rebound to this device
	// while we scan.
	c.lock.Lock()
	defer c.lock.Unlock()

	for b := 0; b < common.NumBuckets; b++ {
		c.buckets[b].Lock()
		s := c.sentinel(b)
		for i := c.slots[s].next; i != s; i = c.slots[i].next {
			if c.slots[i].Devnum == devnum && c.slots[i].count > 0 {
				c.buckets[b].Unlock()
				return common.EBUSY
			}
		}
		c.buckets[b].Unlock()
	}
	c.invalidate(devnum)

	c.devlock.Lock()
	c.devices[devnum] = nil
	c.devinfo[devnum] = nil
	c.devlock.Unlock()
	return nil
}

// Invalidate forgets all unheld cached blocks belonging to a device.
func (c *LRUCache) Invalidate(devnum int) {
	c.lock.Lock()
	c.invalidate(devnum)
	c.lock.Unlock()
}

func (c *LRUCache) invalidate(devnum int) {
	for b := 0; b < common.NumBuckets; b++ {
		c.buckets[b].Lock()
		s := c.sentinel(b)
		for i := c.slots[s].next; i != s; i = c.slots[i].next {
			if c.slots[i].Devnum == devnum && c.slots[i].count == 0 {
				c.slots[i].Devnum = common.NO_DEV
				c.slots[i].valid = false
			}
		}
		c.buckets[b].Unlock()
	}
}

// device looks up a mounted device. I/O against an unmounted device is a bug
// in the caller.
func (c *LRUCache) device(devnum int) (common.BlockDevice, *common.DeviceInfo) {
	c.devlock.Lock()
	defer c.devlock.Unlock()
	godbc.Require(devnum >= 0 && devnum < len(c.devices), "bcache: bad device number", devnum)
	godbc.Require(c.devices[devnum] != nil, "bcache: device not mounted", devnum)
	return c.devices[devnum], c.devinfo[devnum]
}
