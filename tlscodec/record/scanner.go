package record

// Scanner walks a ciphertext buffer one complete frame at a time.
//
//	sc := record.NewScanner(buf)
//	for sc.Next() {
//		use(sc.Header(), sc.Frame())
//	}
//	if err := sc.Err(); err != nil { ... }
//	tail := sc.Remaining()
type Scanner struct {
	buf   []byte
	hdr   Header
	frame []byte
	err   error
}

func NewScanner(b []byte) *Scanner { return &Scanner{buf: b} }

// Next advances to the next complete frame. It returns false at the end of
// the complete frames or on a malformed header.
func (s *Scanner) Next() bool {
	if s.err != nil || len(s.buf) < HeaderSize {
		return false
	}
	h, err := ParseHeader(s.buf)
	if err != nil {
		s.err = err
		return false
	}
	if len(s.buf) < h.FrameSize() {
		return false
	}
	s.hdr = h
	s.frame = s.buf[:h.FrameSize()]
	s.buf = s.buf[h.FrameSize():]
	return true
}

func (s *Scanner) Header() Header { return s.hdr }

// Frame returns the current frame including its header. It aliases the
// scanned buffer.
func (s *Scanner) Frame() []byte { return s.frame }

// Remaining returns the bytes after the last complete frame.
func (s *Scanner) Remaining() []byte { return s.buf }

func (s *Scanner) Err() error { return s.err }
