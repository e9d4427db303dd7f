package common

// A random access block device
type BlockDevice interface {
	Read(buf []byte, pos int64) error
	Write(buf []byte, pos int64) error
	Close() error
}

// BlockCache is a thread-safe interface to a block cache, wrapping one or
// more block devices. Get/Read return the block with its contents locked for
// the caller's exclusive use; Put releases that lock and the caller's
// reference. Pin/Unpin keep a block resident across logically related
// operations without serializing access to its contents.
type BlockCache interface {
	// Attach a new device to the cache
	MountDevice(devnum int, dev BlockDevice, info *DeviceInfo) error
	// Remove a device from the cache
	UnmountDevice(devnum int) error
	// Get a block from the cache without touching the device
	GetBlock(devnum, blockno int) *CacheBlock
	// Get a block from the cache, reading it from the device if needed
	ReadBlock(devnum, blockno int) *CacheBlock
	// Write a held block's contents through to the device
	WriteBlock(cb *CacheBlock)
	// Release (free) a block back to the cache
	PutBlock(cb *CacheBlock)
	// Take an extra reference on a held block
	PinBlock(cb *CacheBlock)
	// Drop a reference taken with PinBlock
	UnpinBlock(cb *CacheBlock)
	// Forget all unheld cached blocks for a given device
	Invalidate(devnum int)
}

// PageAllocator hands out fixed-size page frames with per-frame reference
// counts. A frame allocated once and referenced again (copy-on-write
// sharing) returns to the free list only when every owner has freed it.
type PageAllocator interface {
	// Allocate a frame with a single owner; ENOMEM when none are free
	Alloc() (PhysAddr, error)
	// Drop one owner of a frame
	Free(pa PhysAddr)
	// Record another owner of an allocated frame
	IncRef(pa PhysAddr)
	// The frame's memory
	PageData(pa PhysAddr) []byte
	// The number of frames currently free
	FreeCount() int
}
