// A small demonstration of the two resource managers: a block cache mounted
// over a ramdisk, and a page allocator with copy-on-write style sharing.
package main

import (
	"log"

	"github.com/emberos/ember/bcache"
	"github.com/emberos/ember/common"
	"github.com/emberos/ember/debug"
	"github.com/emberos/ember/palloc"
	"github.com/emberos/ember/ramdisk"
)

const (
	blocksize = 64
	nblocks   = 32
)

func main() {
	data := make([]byte, blocksize*nblocks)
	for i := range data {
		data[i] = byte(i / blocksize)
	}
	dev, err := ramdisk.NewRamdiskDevice(data)
	if err != nil {
		log.Fatalf("creating ramdisk: %s", err)
	}

	cache := bcache.NewLRUCache(1, 16, blocksize, nil)
	info := &common.DeviceInfo{Blocksize: blocksize, Blocks: nblocks}
	if err := cache.MountDevice(0, dev, info); err != nil {
		log.Fatalf("mounting ramdisk: %s", err)
	}

	// Read a block, change it, write it through.
	cb := cache.ReadBlock(0, 7)
	debug.PrintBlock(cb)
	copy(cb.Block, "hello from the buffer cache")
	cache.WriteBlock(cb)
	cache.PutBlock(cb)

	cb = cache.ReadBlock(0, 7)
	log.Printf("block 7 now begins with %q", string(cb.Block[:27]))
	cache.PutBlock(cb)

	if err := cache.UnmountDevice(0); err != nil {
		log.Fatalf("unmounting ramdisk: %s", err)
	}

	// Allocate a page, share it, and release both owners.
	mem := palloc.NewAllocator(8)
	pa, err := mem.Alloc()
	if err != nil {
		log.Fatalf("allocating a page: %s", err)
	}
	copy(mem.PageData(pa), "copy-on-write me")
	debug.PrintPage(pa, mem.PageData(pa), 32)

	mem.IncRef(pa) // a second owner appears
	mem.Free(pa)   // the first owner drops out; the frame stays allocated
	log.Printf("frame %#x still reads %q, %d frames free",
		int64(pa), string(mem.PageData(pa)[:16]), mem.FreeCount())

	mem.Free(pa)
	log.Printf("last owner gone, %d frames free", mem.FreeCount())
}
