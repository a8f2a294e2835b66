package netkit_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenixJK/netkit"
)

func TestFrameRoundtrip(t *testing.T) {
	t.Parallel()

	client, peer := newStreamPair(t)

	payloads := [][]byte{
		[]byte("ping"),
		{},
		[]byte("a"),
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}

	for _, payload := range payloads {
		require.NoError(t, netkit.WriteFrame(client, payload))

		got, err := netkit.ReadFrame(peer, 2*time.Second)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	t.Parallel()

	client, peer := newStreamPair(t)

	require.NoError(t, netkit.WriteFrame(client, nil))

	got, err := netkit.ReadFrame(peer, 2*time.Second)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFrameReadTimeout(t *testing.T) {
	t.Parallel()

	_, peer := newStreamPair(t)

	_, err := netkit.ReadFrame(peer, 50*time.Millisecond)
	require.ErrorIs(t, err, netkit.ErrFrameTimeout)
}

func TestFrameReadRejectsOversizedHeader(t *testing.T) {
	t.Parallel()

	client, peer := newStreamPair(t)

	// A header announcing ~4 GiB must be rejected before the body is
	// allocated or read.
	_, err := client.SendAll([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)

	_, err = netkit.ReadFrame(peer, 2*time.Second)
	require.ErrorIs(t, err, netkit.ErrMaxLenExceeded)
}

func TestFramePeerCloseMidFrame(t *testing.T) {
	t.Parallel()

	client, peer := newStreamPair(t)

	// Header promising 100 bytes, but only 3 arrive before the close.
	_, err := client.SendAll([]byte{0, 0, 0, 100, 'a', 'b', 'c'})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = netkit.ReadFrame(peer, 2*time.Second)
	require.Error(t, err)
}

func TestFrameInterleaved(t *testing.T) {
	t.Parallel()

	client, peer := newStreamPair(t)

	first := []byte("first")
	second := []byte("the second frame")

	require.NoError(t, netkit.WriteFrame(client, first))
	require.NoError(t, netkit.WriteFrame(client, second))

	got, err := netkit.ReadFrame(peer, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, first, got)

	got, err = netkit.ReadFrame(peer, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, second, got)
}
