package common

// Fixed geometry of the two managed pools.
const (
	// The number of hash buckets the buffer pool is sharded across.
	NumBuckets = 13

	// The size in bytes of a physical page frame.
	PageSize = 4096
)

// Sentinel values for "no such resource".
const (
	NO_DEV  = -1
	NO_PAGE = PhysAddr(-1)
)

// Block is the uninterpreted contents of a single device block.
type Block []byte

// PhysAddr is the address of a page frame, expressed as a byte offset from
// the start of the managed physical range. Valid addresses are page-aligned.
type PhysAddr int64

// Clock is a logical clock: a monotonically non-decreasing counter used to
// stamp buffer acquisitions. Calls may return the same value; recency ties
// are broken by list position, not by comparing stamps.
type Clock func() uint64

// CacheBlock is the handle given out by the block cache. The identity fields
// and the block contents are only stable while the caller holds the block
// (acquired and not yet released); a released handle must not be used again.
type CacheBlock struct {
	Block   Block // the block contents
	Blockno int   // the number of this block
	Devnum  int   // the device number of this block

	// This is a single reference back into the cache policy's own
	// structures, so it can correlate a given CacheBlock easily with the
	// correct cache entry.
	Buf interface{}
}

// DeviceInfo describes the geometry of a mounted block device.
type DeviceInfo struct {
	Blocksize int // bytes per block
	Blocks    int // total blocks on the device
}
