package aio

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
	"github.com/joeycumines/attacha-rt/tasksync"
	"github.com/joeycumines/attacha-rt/value"
)

// State is the stream handle's current operation kind.
type State int32

const (
	StateAccept State = iota
	StateRead
	StateWrite
	StateTransmitFile
	StateInternalRead
	StateInternalClose
)

// ErrorKind is the per-handle error classification, distinct from the
// package-wide errs.Kind exception taxonomy: it describes why a
// connection ended, not why an API call failed.
type ErrorKind int32

const (
	ErrNone ErrorKind = iota
	ErrRemoteClose
	ErrLocalClose
	ErrLocalReset
	ErrReadQueueOverflow
	ErrInvalidState
	ErrUndefinedError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrRemoteClose:
		return "remote_close"
	case ErrLocalClose:
		return "local_close"
	case ErrLocalReset:
		return "local_reset"
	case ErrReadQueueOverflow:
		return "read_queue_overflow"
	case ErrInvalidState:
		return "invalid_state"
	default:
		return "undefined_error"
	}
}

// DefaultReadQueueCap is the default cap on buffered-but-undelivered read
// chunks; pushReadQueue fails with read_queue_overflow once it is reached.
const DefaultReadQueueCap = 64

// Handle is the async stream handle: a connection-oriented
// socket wrapped with a fixed buffer used for the one outstanding
// "overlapped" operation, a read FIFO of buffered-but-undelivered chunks,
// a write FIFO of queued-but-unsent chunks, counters, state, and a weak
// notify-task reference used to wake whichever fiber is awaiting
// completion.
//
// Each public operation takes the handle's own TaskMutex, strictly
// serializing operations and enforcing the one-outstanding-op-per-handle
// invariant: only one fiber is ever inside a Handle method at a time, so
// only one goroutine is ever performing the underlying blocking syscall
// for this Handle at a time.
type Handle struct {
	conn net.Conn
	pool *scheduler.Pool

	opMu tasksync.TaskMutex

	mu           sync.Mutex
	data         []byte // nil <=> invalid
	readQueue    [][]byte
	readQueueCap int
	writeQueue   [][]byte

	totalBytes atomic.Int64
	sentBytes  atomic.Int64
	readedBytes atomic.Int64

	state        atomic.Int32
	errKind      atomic.Int32
	notifyTask   atomic.Pointer[scheduler.Task]
}

// NewHandle wraps conn as a stream Handle with the given fixed-buffer
// size (default 4096 if <= 0) and the default read-queue cap.
func NewHandle(pool *scheduler.Pool, conn net.Conn, bufSize int) *Handle {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Handle{
		conn:         conn,
		pool:         pool,
		data:         make([]byte, bufSize),
		readQueueCap: DefaultReadQueueCap,
	}
}

// SetReadQueueCap configures the buffered-read overflow threshold.
func (h *Handle) SetReadQueueCap(n int) {
	h.mu.Lock()
	h.readQueueCap = n
	h.mu.Unlock()
}

func (h *Handle) setNotify(t *scheduler.Task) { h.notifyTask.Store(t) }

// IsClosed reports whether the handle has been invalidated (data==nil).
func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data == nil
}

// Error returns the handle's terminal error classification, ErrNone if
// still open.
func (h *Handle) Error() ErrorKind { return ErrorKind(h.errKind.Load()) }

// TotalBytes, SentBytes, ReadedBytes expose the handle's counters.
func (h *Handle) TotalBytes() int64  { return h.totalBytes.Load() }
func (h *Handle) SentBytes() int64   { return h.sentBytes.Load() }
func (h *Handle) ReadedBytes() int64 { return h.readedBytes.Load() }

// DataAvailable reports whether a buffered read chunk is already waiting
// to be delivered without submitting a new overlapped read.
func (h *Handle) DataAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.readQueue) > 0
}

// awaitDone parks t until done is closed, re-parking on an early resume
// (a wake latched from an earlier or unrelated source) per Park's
// contract. The completion goroutine closes done before waking t, so a
// resume with done still open is never the completion itself.
func awaitDone(t *scheduler.Task, done <-chan struct{}) {
	for {
		scheduler.Park(t)
		select {
		case <-done:
			return
		default:
		}
	}
}

// classifyIOError maps a net.Conn error onto the handle's terminal
// error classes.
func classifyIOError(err error, n int) ErrorKind {
	if err == nil {
		if n == 0 {
			return ErrRemoteClose
		}
		return ErrNone
	}
	if errors.Is(err, io.EOF) {
		return ErrRemoteClose
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrLocalClose
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ErrRemoteClose
	}
	if errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ENETRESET) {
		return ErrLocalClose
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		// Retry: does not close. A blocking conn.Read/Write never
		// actually returns EWOULDBLOCK; only meaningful to a raw-fd
		// poller.
		return ErrNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUndefinedError
	}
	return ErrUndefinedError
}

// submitRead performs one blocking conn.Read into h.data on a dedicated
// goroutine, parking the caller's fiber until it completes, then
// returns the number of bytes read and the classified error.
func (h *Handle) submitRead(t *scheduler.Task) (int, ErrorKind) {
	h.state.Store(int32(StateRead))
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := h.conn.Read(h.data)
		ch <- result{n, err}
	}()

	h.setNotify(t)
	done := make(chan struct{})
	var res result
	go func() {
		res = <-ch
		close(done)
		h.pool.Wake(t)
	}()
	awaitDone(t, done)

	kind := classifyIOError(res.err, res.n)
	if res.n > 0 {
		h.totalBytes.Add(int64(res.n))
		h.readedBytes.Add(int64(res.n))
	}
	return res.n, kind
}

// ReadAvailable fills buf from the read queue if a buffered chunk is
// already available, else submits a fresh overlapped read, returning the
// number of bytes delivered. A terminal error closes the handle with the
// classified ErrorKind and returns it.
func (h *Handle) ReadAvailable(t *scheduler.Task, buf []byte) (int, error) {
	h.opMu.Lock(t)
	defer func() { _ = h.opMu.Unlock(t) }()

	if h.IsClosed() {
		return 0, errs.New(errs.KindInvalidOperation, "aio: read on closed handle")
	}

	h.mu.Lock()
	if len(h.readQueue) > 0 {
		chunk := h.readQueue[0]
		h.readQueue = h.readQueue[1:]
		h.mu.Unlock()
		n := copy(buf, chunk)
		if n < len(chunk) {
			// Leftover bytes go back to the front of the queue.
			h.mu.Lock()
			h.readQueue = append([][]byte{chunk[n:]}, h.readQueue...)
			h.mu.Unlock()
		}
		h.readedBytes.Add(int64(n))
		return n, nil
	}
	h.mu.Unlock()

	n, kind := h.submitRead(t)
	if kind != ErrNone {
		h.Close(kind)
		return n, errs.New(errs.KindSystem, "aio: read failed: "+kind.String())
	}
	copy(buf, h.data[:n])
	return n, nil
}

// ReadAvailableRef behaves like ReadAvailable but returns a borrowed view
// directly into the handle's internal buffer (no copy), valid only
// until the next op on this handle.
func (h *Handle) ReadAvailableRef(t *scheduler.Task) (value.Item, error) {
	h.opMu.Lock(t)
	defer func() { _ = h.opMu.Unlock(t) }()

	if h.IsClosed() {
		return value.Item{}, errs.New(errs.KindInvalidOperation, "aio: read on closed handle")
	}

	h.mu.Lock()
	if len(h.readQueue) > 0 {
		chunk := h.readQueue[0]
		h.readQueue = h.readQueue[1:]
		h.mu.Unlock()
		h.readedBytes.Add(int64(len(chunk)))
		return value.BorrowedBytes(chunk), nil
	}
	h.mu.Unlock()

	n, kind := h.submitRead(t)
	if kind != ErrNone {
		h.Close(kind)
		return value.Item{}, errs.New(errs.KindSystem, "aio: read failed: "+kind.String())
	}
	return value.BorrowedBytes(h.data[:n]), nil
}

// pushReadQueue buffers a chunk produced outside of a direct
// ReadAvailable call. Nothing in this package calls it. Returns
// read_queue_overflow if the cap is exceeded.
func (h *Handle) pushReadQueue(chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readQueueCap > 0 && len(h.readQueue) >= h.readQueueCap {
		return errs.New(errs.KindOutOfRange, "aio: "+ErrReadQueueOverflow.String())
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	h.readQueue = append(h.readQueue, cp)
	return nil
}

// Write queues data for later transmission; it does not itself submit
// an overlapped send or block the caller. Call ForceWrite to actually
// drain the queue onto the wire.
func (h *Handle) Write(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data == nil {
		return errs.New(errs.KindInvalidOperation, "aio: write on closed handle")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	h.writeQueue = append(h.writeQueue, cp)
	return nil
}

// ForceWrite drains the write queue: each queued chunk is submitted
// through the fixed buffer in data_len-sized pieces, the calling fiber
// parking (async I/O suspension point) for each completion, exactly
// matching send_queue_item's contract.
func (h *Handle) ForceWrite(t *scheduler.Task) error {
	h.opMu.Lock(t)
	defer func() { _ = h.opMu.Unlock(t) }()
	return h.drainWriteQueueLocked(t)
}

func (h *Handle) drainWriteQueueLocked(t *scheduler.Task) error {
	for {
		h.mu.Lock()
		if len(h.writeQueue) == 0 {
			h.mu.Unlock()
			return nil
		}
		chunk := h.writeQueue[0]
		h.writeQueue = h.writeQueue[1:]
		bufSize := len(h.data)
		h.mu.Unlock()

		if err := h.sendAll(t, chunk, bufSize); err != nil {
			return err
		}
	}
}

// sendAll writes buf to the wire in bufSize-sized pieces, submitting one
// overlapped send per piece and parking for each completion.
func (h *Handle) sendAll(t *scheduler.Task, buf []byte, bufSize int) error {
	if bufSize <= 0 {
		bufSize = len(h.data)
	}
	for off := 0; off < len(buf); {
		end := off + bufSize
		if end > len(buf) {
			end = len(buf)
		}
		n, kind := h.submitWrite(t, buf[off:end])
		if kind != ErrNone {
			h.Close(kind)
			return errs.New(errs.KindSystem, "aio: write failed: "+kind.String())
		}
		if n <= 0 {
			h.Close(ErrUndefinedError)
			return errs.New(errs.KindSystem, "aio: write failed: "+ErrUndefinedError.String())
		}
		off += n
	}
	return nil
}

func (h *Handle) submitWrite(t *scheduler.Task, chunk []byte) (int, ErrorKind) {
	h.state.Store(int32(StateWrite))
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := h.conn.Write(chunk)
		ch <- result{n, err}
	}()

	h.setNotify(t)
	done := make(chan struct{})
	var res result
	go func() {
		res = <-ch
		close(done)
		h.pool.Wake(t)
	}()
	awaitDone(t, done)

	kind := ErrNone
	if res.err != nil {
		kind = classifyIOError(res.err, res.n)
		if kind == ErrNone {
			kind = ErrUndefinedError
		}
	}
	if res.n > 0 {
		h.totalBytes.Add(int64(res.n))
		h.sentBytes.Add(int64(res.n))
	}
	return res.n, kind
}

// ForceWriteAndClose queues buf, drains the write queue, then closes
// the handle.
func (h *Handle) ForceWriteAndClose(t *scheduler.Task, buf []byte) error {
	if err := h.Write(buf); err != nil {
		return err
	}
	if err := h.ForceWrite(t); err != nil {
		return err
	}
	h.Close(ErrLocalClose)
	return nil
}

// Close drains and discards the write queue, invalidates the handle
// (data=nil), records the terminal ErrorKind, and wakes the notify task,
// if any, so it observes the handle is no longer usable. Subsequent ops
// fail with an invalid_operation error that does not carry kind; the
// recorded kind is available only from Error().
func (h *Handle) Close(kind ErrorKind) {
	h.mu.Lock()
	if h.data == nil {
		h.mu.Unlock()
		return
	}
	h.data = nil
	h.writeQueue = nil
	h.readQueue = nil
	h.mu.Unlock()

	if kind == ErrNone {
		kind = ErrLocalClose
	}
	h.errKind.Store(int32(kind))
	h.state.Store(int32(StateInternalClose))
	_ = h.conn.Close()

	if nt := h.notifyTask.Load(); nt != nil {
		h.pool.Wake(nt)
	}
}

// Reset closes the connection RST-like (SO_LINGER 0 where the
// underlying conn supports it).
func (h *Handle) Reset() {
	if tc, ok := h.conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	h.Close(ErrLocalReset)
}

// Rebuffer reallocates the handle's fixed buffer to newSize.
func (h *Handle) Rebuffer(newSize int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data == nil {
		return
	}
	if newSize <= 0 {
		newSize = 1
	}
	h.data = make([]byte, newSize)
}

// Conn returns the underlying net.Conn, for callers (e.g. Server) that
// need the raw connection for setup (TFO, deadlines) before wrapping it.
func (h *Handle) Conn() net.Conn { return h.conn }
