package relay

// MaxFrameLen is the largest notification payload at the usual 247-byte ATT
// MTU. Longer frames are forwarded anyway; the relay never truncates.
const MaxFrameLen = 244

// Frame is a notification payload relayed verbatim from the source device
// to the subscriber.
type Frame []byte

// newFrame copies data into a Frame. Payloads of one byte or less carry no
// measurement and are rejected.
func newFrame(data []byte) (Frame, bool) {
	if len(data) <= 1 {
		return nil, false
	}
	f := make(Frame, len(data))
	copy(f, data)
	return f, true
}
