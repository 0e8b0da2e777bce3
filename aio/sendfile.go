package aio

import (
	"io"
	"os"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
)

// maxTransferBlock is the largest single kernel-assisted transfer size
// before WriteFile must chunk the request into sequential submissions.
const maxTransferBlock = (1 << 31) - 2

// WriteFile submits a file transfer of length bytes starting at offset
// in src, chunked through chunkSize-sized pieces over the wire; the
// chunk size is capped at maxTransferBlock, so a longer transfer becomes
// multiple sequential submissions. Any failure aborts the remaining
// chunks. The final piece is always sized as whatever remains
// (min(chunkSize, remaining)).
func (h *Handle) WriteFile(t *scheduler.Task, src *os.File, length int64, offset int64, chunkSize int) error {
	h.opMu.Lock(t)
	defer func() { _ = h.opMu.Unlock(t) }()

	if h.IsClosed() {
		return errs.New(errs.KindInvalidOperation, "aio: write_file on closed handle")
	}
	if chunkSize <= 0 {
		h.mu.Lock()
		chunkSize = len(h.data)
		h.mu.Unlock()
	}
	if int64(chunkSize) > maxTransferBlock {
		chunkSize = maxTransferBlock
	}

	h.state.Store(int32(StateTransmitFile))

	remaining := length
	pos := offset
	buf := make([]byte, chunkSize)

	for remaining > 0 {
		want := int64(chunkSize)
		if remaining < want {
			want = remaining
		}
		n, err := src.ReadAt(buf[:want], pos)
		if err != nil && err != io.EOF {
			h.Close(ErrUndefinedError)
			return errs.Wrap(errs.KindSystem, "aio: write_file read source", err)
		}
		if n == 0 {
			break
		}

		if err := h.sendAll(t, buf[:n], chunkSize); err != nil {
			return err
		}

		pos += int64(n)
		remaining -= int64(n)
	}
	return nil
}

// WriteFilePath is WriteFile for a file named by path. length <= 0 means
// "everything from offset to end of file".
func (h *Handle) WriteFilePath(t *scheduler.Task, path string, length int64, offset int64, chunkSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindLibraryNotFound, "aio: write_file open "+path, err)
	}
	defer f.Close()

	if length <= 0 {
		fi, err := f.Stat()
		if err != nil {
			return errs.Wrap(errs.KindSystem, "aio: write_file stat "+path, err)
		}
		length = fi.Size() - offset
		if length <= 0 {
			return nil
		}
	}
	return h.WriteFile(t, f, length, offset, chunkSize)
}
