package remotefs

import (
	"bytes"
	"context"
	"errors"
)

// Writer buffers a whole file and writes it to the device on Close.
type Writer struct {
	fs     *FS
	ctx    context.Context
	path   string
	buf    bytes.Buffer
	closed bool
}

// Create returns a Writer for path. Nothing reaches the device until Close.
func (fs *FS) Create(ctx context.Context, path string) *Writer {
	return &Writer{fs: fs, ctx: ctx, path: path}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write on closed remote file")
	}
	return w.buf.Write(p)
}

// Close flushes the buffered content as a whole-file overwrite.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fs.WriteFile(w.ctx, w.path, w.buf.Bytes())
}
