package ramdisk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberos/ember/common"
)

func TestReadWrite(t *testing.T) {
	dev, err := NewRamdiskDevice(make([]byte, 256))
	require.NoError(t, err)

	require.NoError(t, dev.Write([]byte("abcd"), 64))

	buf := make([]byte, 4)
	require.NoError(t, dev.Read(buf, 64))
	require.Equal(t, []byte("abcd"), buf)
}

func TestOutOfRange(t *testing.T) {
	dev, err := NewRamdiskDevice(make([]byte, 128))
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.ErrorIs(t, dev.Read(buf, 100), common.ERR_SEEK)
	require.ErrorIs(t, dev.Write(buf, 100), common.ERR_SEEK)
	require.ErrorIs(t, dev.Read(buf, -1), common.ERR_SEEK)

	require.NoError(t, dev.Close())
	require.ErrorIs(t, dev.Read(buf, 0), common.ERR_SEEK)
}
