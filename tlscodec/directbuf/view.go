package directbuf

// ConstView keeps a read-only buffer bound to an Inbound stream until Release.
type ConstView struct {
	s *Inbound
}

// BindConst binds buf as the contents of s. The engine never writes to buf.
func BindConst(s *Inbound, buf []byte) (ConstView, error) {
	if err := s.bind(buf); err != nil {
		return ConstView{}, err
	}
	return ConstView{s: s}, nil
}

// Release unbinds the buffer. Calling it on a zero view or more than once is a no-op.
func (v *ConstView) Release() {
	if v.s == nil {
		return
	}
	v.s.reset()
	v.s = nil
}

// MutableView keeps a writable buffer bound to an Outbound stream until Release.
type MutableView struct {
	s *Outbound
}

// BindMutable binds buf as the destination of s. Bytes already in buf are
// overwritten from offset zero.
func BindMutable(s *Outbound, buf []byte) (MutableView, error) {
	if err := s.bind(buf); err != nil {
		return MutableView{}, err
	}
	return MutableView{s: s}, nil
}

// Release unbinds the buffer. Calling it on a zero view or more than once is a no-op.
func (v *MutableView) Release() {
	if v.s == nil {
		return
	}
	v.s.reset()
	v.s = nil
}
