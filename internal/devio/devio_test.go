package devio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowtree/dancingtree/internal/devio"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	dev := devio.NewMemDevice(4, 128)
	data := make([]byte, 128)
	data[0] = 0xAB
	require.NoError(t, dev.WriteBlock(2, data))

	got, err := dev.ReadBlock(2)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), got[0])
}

func TestMemDeviceOutOfRange(t *testing.T) {
	dev := devio.NewMemDevice(2, 128)
	_, err := dev.ReadBlock(5)
	require.Error(t, err)
}

func TestPageCacheGrabReadsThroughToDevice(t *testing.T) {
	dev := devio.NewMemDevice(2, 64)
	data := make([]byte, 64)
	data[3] = 0x42
	require.NoError(t, dev.WriteBlock(0, data))

	pc := devio.NewPageCache(dev)
	p, err := pc.GrabCachePage(0)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), p.Bytes()[3])
	require.True(t, p.Uptodate())
}

func TestPageCacheGrabCachesPage(t *testing.T) {
	dev := devio.NewMemDevice(2, 64)
	pc := devio.NewPageCache(dev)

	p1, err := pc.GrabCachePage(1)
	require.NoError(t, err)
	p2, err := pc.GrabCachePage(1)
	require.NoError(t, err)
	require.Same(t, p1, p2)
}

func TestPageCacheWritebackClearsDirty(t *testing.T) {
	dev := devio.NewMemDevice(2, 64)
	pc := devio.NewPageCache(dev)

	p := pc.NewPage(1, 64)
	p.Bytes()[0] = 0x7F
	require.True(t, p.Dirty())

	require.NoError(t, pc.Writeback())
	require.False(t, p.Dirty())

	got, err := dev.ReadBlock(1)
	require.NoError(t, err)
	require.Equal(t, byte(0x7F), got[0])
}
