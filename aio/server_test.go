package aio_test

import (
	"testing"
	"time"

	"github.com/joeycumines/attacha-rt/aio"
	"github.com/joeycumines/attacha-rt/scheduler"
	"github.com/joeycumines/attacha-rt/value"
	"github.com/stretchr/testify/require"
)

// TestSocketEcho: the server echoes back whatever it reads until the
// client closes; the server's handle then reports remote_close.
func TestSocketEcho(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(4))
	defer pool.Shutdown()

	serverErrCh := make(chan aio.ErrorKind, 1)

	addr, err := aio.ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	srv := aio.NewServer(pool, addr, func(ht *scheduler.Task, h *aio.Handle, _, _ aio.Address) {
		buf := make([]byte, 4096)
		for {
			n, err := h.ReadAvailable(ht, buf)
			if err != nil {
				serverErrCh <- h.Error()
				return
			}
			_ = h.Write(buf[:n])
			if err := h.ForceWrite(ht); err != nil {
				serverErrCh <- h.Error()
				return
			}
		}
	})
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	clientTask := scheduler.NewTask(pool, func(ct *scheduler.Task, _ value.Item) (value.Item, error) {
		h, err := aio.Dial(ct, pool, srv.Addr())
		require.NoError(t, err)

		require.NoError(t, h.Write([]byte("ping")))
		require.NoError(t, h.ForceWrite(ct))

		buf := make([]byte, 4096)
		n, err := h.ReadAvailable(ct, buf)
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))

		h.Close(aio.ErrLocalClose)
		return value.Item{}, nil
	}, value.Item{})
	clientTask.Start()

	select {
	case <-clientTask.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client task did not complete in time")
	}

	select {
	case kind := <-serverErrCh:
		require.Equal(t, aio.ErrRemoteClose, kind)
	case <-time.After(5 * time.Second):
		t.Fatal("server handler did not observe close in time")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	a, err := aio.ParseAddress("127.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, aio.AddrV4, a.Type())
	require.EqualValues(t, 8080, a.Port())
	require.Equal(t, "127.0.0.1:8080", a.ToString())

	b, err := aio.ParseAddress("[::1]:9090")
	require.NoError(t, err)
	require.Equal(t, aio.AddrV6, b.Type())
	require.EqualValues(t, 9090, b.Port())
}

func TestSetReadQueueCapOnFreshHandle(t *testing.T) {
	pool := scheduler.New(scheduler.WithWorkers(1))
	defer pool.Shutdown()

	// ReadAvailable is exercised end to end by the server echo test
	// above; this test only checks that setting the read queue cap on a
	// fresh handle leaves no data available.
	h := aio.NewHandle(pool, nil, 0)
	h.SetReadQueueCap(1)
	require.False(t, h.DataAvailable())
}
