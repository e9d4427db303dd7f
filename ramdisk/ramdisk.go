// Package ramdisk provides an in-memory block device, standing in for a real
// disk driver in tests and example programs.
package ramdisk

import (
	"os"
	"sync"

	"github.com/emberos/ember/common"
)

type ramdiskDevice struct {
	m    sync.RWMutex
	data []byte
}

// NewRamdiskDevice creates a block device backed by the given byte slice.
func NewRamdiskDevice(data []byte) (common.BlockDevice, error) {
	return &ramdiskDevice{data: data}, nil
}

// NewRamdiskDeviceFile creates a block device backed by the contents of a
// file, read into memory up front.
func NewRamdiskDeviceFile(filename string) (common.BlockDevice, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewRamdiskDevice(data)
}

func (dev *ramdiskDevice) Read(buf []byte, pos int64) error {
	dev.m.RLock()
	defer dev.m.RUnlock()
	if dev.data == nil || pos < 0 || pos+int64(len(buf)) > int64(len(dev.data)) {
		return common.ERR_SEEK
	}
	copy(buf, dev.data[pos:])
	return nil
}

func (dev *ramdiskDevice) Write(buf []byte, pos int64) error {
	dev.m.Lock()
	defer dev.m.Unlock()
	if dev.data == nil || pos < 0 || pos+int64(len(buf)) > int64(len(dev.data)) {
		return common.ERR_SEEK
	}
	copy(dev.data[pos:], buf)
	return nil
}

func (dev *ramdiskDevice) Close() error {
	dev.m.Lock()
	dev.data = nil
	dev.m.Unlock()
	return nil
}
