// Package wire implements the NTS-KE record codec: the critical-bit/type/
// length-prefixed record framing carried as TLS application data, and the
// bounded message buffer records are read into and written out of.
package wire

import (
	"golang.org/x/crypto/cryptobyte"
)

// Known NTS-KE record types (RFC 8915 section 4).
const (
	TypeEndOfMessage  uint16 = 0
	TypeNextProtocol  uint16 = 1
	TypeError         uint16 = 2
	TypeWarning       uint16 = 3
	TypeAEADAlgorithm uint16 = 4
	TypeCookie        uint16 = 5
	TypeNTPv4Server   uint16 = 6
	TypeNTPv4Port     uint16 = 7
)

// criticalBit marks the high bit of the 16-bit type field.
const criticalBit uint16 = 0x8000

// maxBodyLen is the largest body a single record can carry; the length
// field is 16 bits.
const maxBodyLen = 0xffff

// BufferCapacity is the fixed size of a KE message buffer.
const BufferCapacity = 16 * 1024

// Record is one decoded NTS-KE record.
type Record struct {
	Critical bool
	Type     uint16
	Body     []byte
}

// IsEndOfMessage reports whether r is the canonical terminating record:
// critical, type 0, empty body.
func (r Record) IsEndOfMessage() bool {
	return r.Critical && r.Type == TypeEndOfMessage && len(r.Body) == 0
}

// MessageBuffer is the bounded, resumable buffer a KE connection reads
// records into and writes records out of. length/sent/parsed track
// partial I/O and partial parsing across event-loop suspension points;
// capacity never changes.
type MessageBuffer struct {
	buf    [BufferCapacity]byte
	length int  // bytes valid in buf
	sent   int  // bytes already written to the TLS session
	parsed int  // cursor for Iterate
	eof    bool // peer half-closed / sent TLS close-notify
}

// Reset clears the buffer for reuse, as happens between the Send and
// Receive states of a KE connection.
func (m *MessageBuffer) Reset() {
	m.length = 0
	m.sent = 0
	m.parsed = 0
	m.eof = false
}

// RewindParse resets the Iterate cursor to the start of the buffer
// without touching the underlying bytes, so request/response processing
// can walk an already-validated message independently of whatever cursor
// position Validate left behind.
func (m *MessageBuffer) RewindParse() {
	m.parsed = 0
}

// Bytes returns the valid portion of the buffer.
func (m *MessageBuffer) Bytes() []byte { return m.buf[:m.length] }

// Len returns the number of valid bytes.
func (m *MessageBuffer) Len() int { return m.length }

// Sent returns how many of the valid bytes have already been written out.
func (m *MessageBuffer) Sent() int { return m.sent }

// Unsent returns the slice of bytes still waiting to go out over TLS.
func (m *MessageBuffer) Unsent() []byte { return m.buf[m.sent:m.length] }

// MarkSent advances the sent cursor after a successful partial write.
func (m *MessageBuffer) MarkSent(n int) { m.sent += n }

// EOF reports whether the peer has closed its write side.
func (m *MessageBuffer) EOF() bool { return m.eof }

// SetEOF records that the peer closed its write side.
func (m *MessageBuffer) SetEOF() { m.eof = true }

// Append copies unconsumed bytes read off the wire into the buffer,
// returning false if they would not fit in the remaining capacity.
func (m *MessageBuffer) Append(data []byte) bool {
	if m.length+len(data) > BufferCapacity {
		return false
	}
	copy(m.buf[m.length:], data)
	m.length += len(data)
	return true
}

// AppendRecord serializes one record onto the buffer, failing if the body
// is too large or the buffer would overflow.
func AppendRecord(m *MessageBuffer, critical bool, typ uint16, body []byte) bool {
	if len(body) > maxBodyLen {
		return false
	}
	if m.length+4+len(body) > BufferCapacity {
		return false
	}

	var b cryptobyte.Builder
	t := typ
	if critical {
		t |= criticalBit
	}
	b.AddUint16(t)
	b.AddUint16(uint16(len(body)))
	b.AddBytes(body)

	out, err := b.Bytes()
	if err != nil {
		return false
	}

	copy(m.buf[m.length:], out)
	m.length += len(out)
	return true
}

// Iterate walks the buffer from its current parsed cursor, returning one
// record at a time. ok is false when fewer than 4 bytes remain (need more
// data) or the declared body length exceeds what remains (malformed). The
// caller distinguishes these cases via Validate.
func Iterate(m *MessageBuffer) (Record, bool) {
	remaining := m.buf[m.parsed:m.length]
	s := cryptobyte.String(remaining)

	var rawType, bodyLen uint16
	if !s.ReadUint16(&rawType) || !s.ReadUint16(&bodyLen) {
		return Record{}, false
	}

	var body cryptobyte.String
	if !s.ReadBytes((*[]byte)(&body), int(bodyLen)) {
		return Record{}, false
	}

	consumed := len(remaining) - len(s)
	m.parsed += consumed

	return Record{
		Critical: rawType&criticalBit != 0,
		Type:     rawType &^ criticalBit,
		Body:     []byte(body),
	}, true
}

// ValidateStatus is the outcome of Validate.
type ValidateStatus int

const (
	// Incomplete means iteration ran out of bytes before reaching a
	// terminating End-of-Message record, and the peer has not hit EOF --
	// more data may still arrive.
	Incomplete ValidateStatus = iota
	// Ok means the buffer holds exactly one complete message: zero or
	// more records followed by a single terminating End-of-Message, with
	// no trailing bytes.
	Ok
	// Error means the buffer is malformed: empty, truncated after EOF,
	// containing a second End-of-Message, or ending without one.
	Error
)

// Validate iterates buf to completion from the start and classifies the
// result per spec.md §4.A / §8 invariant 2.
func Validate(m *MessageBuffer) ValidateStatus {
	if m.length == 0 {
		return Error
	}

	saved := m.parsed
	m.parsed = 0
	defer func() { m.parsed = saved }()

	sawEOM := false
	for {
		if m.parsed == m.length {
			break
		}
		rec, ok := Iterate(m)
		if !ok {
			if m.eof {
				return Error
			}
			return Incomplete
		}
		if sawEOM {
			// Anything after the first End-of-Message is trailing data.
			return Error
		}
		if rec.IsEndOfMessage() {
			sawEOM = true
		}
	}

	if !sawEOM {
		if m.eof {
			return Error
		}
		return Incomplete
	}

	return Ok
}
