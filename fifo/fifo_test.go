package fifo_test

import (
	"testing"

	"github.com/nsingh/neilfs/fifo"
)

func TestNonblockingWriteThenRead(t *testing.T) {
	r := fifo.NewRegistry()

	w, err := r.Open("/tmp/p1", fifo.ModeWrite, true)
	if err != nil {
		t.Fatalf("Open writer: %v", err)
	}
	rd, err := r.Open("/tmp/p1", fifo.ModeRead, true)
	if err != nil {
		t.Fatalf("Open reader: %v", err)
	}

	n, err := w.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}

	buf := make([]byte, 16)
	n, err = rd.Read(buf)
	if err != nil || n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("Read = %d, %q, %v", n, buf[:n], err)
	}
}

func TestWriteAfterAllReadersCloseIsBrokenPipe(t *testing.T) {
	r := fifo.NewRegistry()
	w, _ := r.Open("/tmp/p2", fifo.ModeWrite, true)
	rd, _ := r.Open("/tmp/p2", fifo.ModeRead, true)

	if err := rd.Close(); err != nil {
		t.Fatalf("Close reader: %v", err)
	}
	if _, err := w.Write([]byte("x")); err != fifo.ErrBrokenPipe {
		t.Fatalf("Write after last reader closed: got %v, want ErrBrokenPipe", err)
	}
}

func TestReadReturnsEOFAfterWriterClosesAndBufferDrained(t *testing.T) {
	r := fifo.NewRegistry()
	w, _ := r.Open("/tmp/p3", fifo.ModeWrite, true)
	rd, _ := r.Open("/tmp/p3", fifo.ModeRead, true)

	w.Write([]byte("ab"))
	w.Close()

	buf := make([]byte, 2)
	n, err := rd.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read before EOF: %d, %v", n, err)
	}

	n, err = rd.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("Read at EOF: got %d, %v, want 0, nil", n, err)
	}
}

func TestNonblockingReadOnEmptyBufferReturnsWouldBlock(t *testing.T) {
	r := fifo.NewRegistry()
	r.Open("/tmp/p7", fifo.ModeWrite, true) // keep a writer open so it isn't EOF
	rd, _ := r.Open("/tmp/p7", fifo.ModeRead, true)

	buf := make([]byte, 4)
	n, err := rd.Read(buf)
	if n != 0 || err != fifo.ErrWouldBlock {
		t.Fatalf("Read on empty nonblocking pipe: got %d, %v, want 0, ErrWouldBlock", n, err)
	}
}

func TestNonblockingWriteOnFullBufferReturnsWouldBlock(t *testing.T) {
	r := fifo.NewRegistry()
	w, _ := r.Open("/tmp/p8", fifo.ModeWrite, true)
	r.Open("/tmp/p8", fifo.ModeRead, true) // keep a reader open so it isn't broken-pipe

	filler := make([]byte, fifo.BufferSize)
	if n, err := w.Write(filler); err != nil || n != fifo.BufferSize {
		t.Fatalf("fill buffer: %d, %v", n, err)
	}

	n, err := w.Write([]byte("x"))
	if n != 0 || err != fifo.ErrWouldBlock {
		t.Fatalf("Write on full nonblocking pipe: got %d, %v, want 0, ErrWouldBlock", n, err)
	}
}

func TestSeekIsUnsupported(t *testing.T) {
	r := fifo.NewRegistry()
	h, _ := r.Open("/tmp/p4", fifo.ModeRead, true)
	if _, err := h.Seek(0, 0); err != fifo.ErrSeekNotSupported {
		t.Fatalf("Seek: got %v, want ErrSeekNotSupported", err)
	}
}

func TestDuplicateSharesBuffer(t *testing.T) {
	r := fifo.NewRegistry()
	w, _ := r.Open("/tmp/p5", fifo.ModeWrite, true)
	rd, _ := r.Open("/tmp/p5", fifo.ModeRead, true)
	rd2 := rd.Duplicate()

	w.Write([]byte("xy"))
	buf := make([]byte, 1)
	n, _ := rd.Read(buf)
	if n != 1 || buf[0] != 'x' {
		t.Fatalf("first handle read = %q", buf[:n])
	}
	n, _ = rd2.Read(buf)
	if n != 1 || buf[0] != 'y' {
		t.Fatalf("duplicate handle read = %q", buf[:n])
	}
}

func TestRegistryRecreatesEntryAfterFullClose(t *testing.T) {
	r := fifo.NewRegistry()
	w, _ := r.Open("/tmp/p6", fifo.ModeWrite, true)
	rd, _ := r.Open("/tmp/p6", fifo.ModeRead, true)
	w.Write([]byte("z"))
	w.Close()
	rd.Close()

	// A fresh Open after both sides closed should see an empty buffer,
	// not whatever was written to the prior incarnation.
	w2, _ := r.Open("/tmp/p6", fifo.ModeWrite, true)
	rd2, _ := r.Open("/tmp/p6", fifo.ModeRead, true)
	if rd2.CanRead() && rd2.Stat().Size != 0 {
		t.Fatalf("stale data leaked into recreated pipe entry")
	}
	_ = w2
}
