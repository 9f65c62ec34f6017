package protocol

// InputBuffer is the view of received bytes handed to Transport.Receive
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer collects outgoing bytes. Update and DataSince let the
// transport patch the length byte and checksum a frame in place.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer is an InputBuffer over a fixed slice
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is an OutputBuffer backed by a MessageMax array.
// Output silently drops what does not fit.
type ScratchOutput struct {
	buf [MessageMax]byte
	pos int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	s.pos += copy(s.buf[s.pos:], data)
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

func (s *ScratchOutput) Reset() { s.pos = 0 }

// FifoBuffer is a byte ring between the USB reader and the main loop.
// Write only touches free space, so a slice returned by Data stays valid
// until the next Pop.
type FifoBuffer struct {
	buf  []byte
	head int // index of the oldest byte
	n    int // bytes stored
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write stores as much of data as fits and returns the count stored
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		if f.n == len(f.buf) {
			break
		}
		f.buf[(f.head+f.n)%len(f.buf)] = b
		f.n++
		written++
	}
	return written
}

// Read moves up to len(data) bytes out of the ring
func (f *FifoBuffer) Read(data []byte) int {
	count := min(len(data), f.n)
	for i := 0; i < count; i++ {
		data[i] = f.buf[(f.head+i)%len(f.buf)]
	}
	f.Pop(count)
	return count
}

func (f *FifoBuffer) Available() int { return f.n }

func (f *FifoBuffer) Free() int { return len(f.buf) - f.n }

// Data returns the stored bytes contiguously, copying only when they
// wrap around the end of the ring.
func (f *FifoBuffer) Data() []byte {
	end := f.head + f.n
	if end <= len(f.buf) {
		return f.buf[f.head:end]
	}
	out := make([]byte, f.n)
	k := copy(out, f.buf[f.head:])
	copy(out[k:], f.buf[:end-len(f.buf)])
	return out
}

func (f *FifoBuffer) Pop(n int) {
	n = min(n, f.n)
	f.head = (f.head + n) % len(f.buf)
	f.n -= n
	if f.n == 0 {
		f.head = 0
	}
}

func (f *FifoBuffer) IsEmpty() bool { return f.n == 0 }

func (f *FifoBuffer) Reset() {
	f.head = 0
	f.n = 0
}
