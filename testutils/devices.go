package testutils

import (
	"testing"

	"github.com/emberos/ember/common"
	"github.com/emberos/ember/ramdisk"
)

//////////////////////////////////////////////////////////////////////////////
// A ramdisk device with a certain number of blocks with a given block size.
// Each block is filled with the bytes of the block number, so each byte in
// the first block contains a 0, the next block contains all 1, etc.
//////////////////////////////////////////////////////////////////////////////

func NewTestDevice(test *testing.T, bsize, blocks int) common.BlockDevice {
	data := make([]byte, bsize*blocks)
	for i := 0; i < blocks; i++ {
		for j := 0; j < bsize; j++ {
			data[(i*bsize)+j] = byte(i)
		}
	}
	dev, err := ramdisk.NewRamdiskDevice(data)
	if err != nil {
		FatalHere(test, "Failed when creating ramdisk device: %s", err)
	}
	return dev
}

//////////////////////////////////////////////////////////////////////////////
// A random access device that blocks on any read operation. It notifies of
// the block using the HasBlocked channel and waits to be unblocked on the
// Unblock channel
//////////////////////////////////////////////////////////////////////////////

type BlockingDevice struct {
	common.BlockDevice
	HasBlocked chan bool
	Unblock    chan bool
}

func NewBlockingDevice(rdev common.BlockDevice) *BlockingDevice {
	return &BlockingDevice{
		rdev,
		make(chan bool),
		make(chan bool),
	}
}

func (dev *BlockingDevice) Read(buf []byte, pos int64) error {
	dev.HasBlocked <- true
	<-dev.Unblock
	return dev.BlockDevice.Read(buf, pos)
}

func (dev *BlockingDevice) Close() error {
	return dev.BlockDevice.Close()
}
