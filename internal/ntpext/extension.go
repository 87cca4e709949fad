// Package ntpext implements the NTS-NTP extension-field bodies: the
// unique identifier, cookie, cookie placeholder, and AEAD-and-encrypted
// extension-field formats embedded inside NTPv4 packets per RFC 8915.
package ntpext

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Extension-field type constants, as negotiated by RFC 8915 section 5.
const (
	TypeUniqueIdentifier uint16 = 0x0104
	TypeCookie           uint16 = 0x0204
	TypeCookiePlaceholder uint16 = 0x0304
	TypeAuthAndEEF       uint16 = 0x0404
)

// UniqueIDLen is the fixed length of the unique-identifier field.
const UniqueIDLen = 32

// NTP packet mode values (RFC 5905 section 7.3), the low 3 bits of the
// first header byte. check_request_auth/check_response_auth key their
// mode requirement off these.
const (
	ModeClient uint8 = 3
	ModeServer uint8 = 4
)

// HeaderMode extracts the mode field from an NTP packet's first byte.
func HeaderMode(packet []byte) uint8 {
	if len(packet) == 0 {
		return 0
	}
	return packet[0] & 0x07
}

// Padded returns n rounded up to the next multiple of 4, the alignment
// NTPv4 extension fields require.
func Padded(n int) int {
	return n + (4-n%4)%4
}

// AuthAndEEF is the parsed body of an NTS-Authenticator-and-Encrypted-EF
// extension field: nonce_len/ct_len headers followed by 4-byte padded
// nonce and ciphertext.
type AuthAndEEF struct {
	Nonce      []byte
	Ciphertext []byte
}

// Marshal serializes an AuthAndEEF body, padding nonce and ciphertext to
// 4-byte boundaries as RFC 8915 section 5.6 requires.
func (a AuthAndEEF) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(len(a.Nonce)))
	b.AddUint16(uint16(len(a.Ciphertext)))
	b.AddBytes(pad(a.Nonce))
	b.AddBytes(pad(a.Ciphertext))
	out, _ := b.Bytes()
	return out
}

func pad(b []byte) []byte {
	out := make([]byte, Padded(len(b)))
	copy(out, b)
	return out
}

// ParseAuthAndEEF parses an AEAD-and-EEF extension field body, enforcing
// the invariant padded(nonce_len) + padded(ct_len) <= len(body).
func ParseAuthAndEEF(body []byte) (AuthAndEEF, error) {
	s := cryptobyte.String(body)

	var nonceLen, ctLen uint16
	if !s.ReadUint16(&nonceLen) || !s.ReadUint16(&ctLen) {
		return AuthAndEEF{}, fmt.Errorf("ntpext: auth-and-eef body too short for headers")
	}

	paddedNonce := Padded(int(nonceLen))
	paddedCT := Padded(int(ctLen))
	if paddedNonce+paddedCT > len(s) {
		return AuthAndEEF{}, fmt.Errorf("ntpext: auth-and-eef padded lengths exceed body")
	}

	var nonceField, ctField cryptobyte.String
	if !s.ReadBytes((*[]byte)(&nonceField), paddedNonce) {
		return AuthAndEEF{}, fmt.Errorf("ntpext: auth-and-eef nonce truncated")
	}
	if !s.ReadBytes((*[]byte)(&ctField), paddedCT) {
		return AuthAndEEF{}, fmt.Errorf("ntpext: auth-and-eef ciphertext truncated")
	}

	return AuthAndEEF{
		Nonce:      []byte(nonceField)[:nonceLen],
		Ciphertext: []byte(ctField)[:ctLen],
	}, nil
}

// Field is one generic, already length-delimited NTP extension field as
// it appears on the wire: a 16-bit type, a 16-bit 4-byte-aligned length,
// and a value of exactly that length.
type Field struct {
	Type  uint16
	Value []byte
}

// Marshal serializes a generic extension field, padding Value to a
// 4-byte boundary and recording the padded length in the field-length
// header as NTPv4 requires.
func (f Field) Marshal() []byte {
	padded := pad(f.Value)
	var b cryptobyte.Builder
	b.AddUint16(f.Type)
	b.AddUint16(uint16(4 + len(padded)))
	b.AddBytes(padded)
	out, _ := b.Bytes()
	return out
}

// ParseField reads one generic extension field from the front of data,
// returning the field and the number of bytes consumed.
func ParseField(data []byte) (Field, int, error) {
	s := cryptobyte.String(data)

	var typ, fieldLen uint16
	if !s.ReadUint16(&typ) || !s.ReadUint16(&fieldLen) {
		return Field{}, 0, fmt.Errorf("ntpext: field header truncated")
	}
	if fieldLen < 4 {
		return Field{}, 0, fmt.Errorf("ntpext: field length %d shorter than header", fieldLen)
	}

	valueLen := int(fieldLen) - 4
	var value cryptobyte.String
	if !s.ReadBytes((*[]byte)(&value), valueLen) {
		return Field{}, 0, fmt.Errorf("ntpext: field value truncated")
	}

	return Field{Type: typ, Value: []byte(value)}, int(fieldLen), nil
}
