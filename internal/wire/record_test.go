package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildRaw(t *testing.T, segments ...[]byte) *MessageBuffer {
	t.Helper()
	m := &MessageBuffer{}
	for _, s := range segments {
		require.True(t, m.Append(s))
	}
	return m
}

func eomBytes() []byte { return []byte{0x80, 0x00, 0x00, 0x00} }

func TestAppendIterateRoundTrip(t *testing.T) {
	m := &MessageBuffer{}
	require.True(t, AppendRecord(m, true, TypeNextProtocol, []byte{0x00, 0x00}))
	require.True(t, AppendRecord(m, true, TypeAEADAlgorithm, []byte{0x00, 0x0f}))
	require.True(t, AppendRecord(m, false, TypeCookie, []byte("opaque-cookie")))
	require.True(t, AppendRecord(m, true, TypeEndOfMessage, nil))

	var records []Record
	for {
		rec, ok := Iterate(m)
		if !ok {
			break
		}
		records = append(records, rec)
		if rec.IsEndOfMessage() {
			break
		}
	}

	require.Len(t, records, 4)
	require.True(t, records[0].Critical)
	require.Equal(t, TypeNextProtocol, records[0].Type)
	require.Equal(t, []byte{0x00, 0x00}, records[0].Body)
	require.False(t, records[2].Critical)
	require.Equal(t, "opaque-cookie", string(records[2].Body))
	require.True(t, records[3].IsEndOfMessage())
}

func TestValidateEmptyBufferIsError(t *testing.T) {
	m := &MessageBuffer{}
	require.Equal(t, Error, Validate(m))
}

func TestValidateLoneEndOfMessageIsOk(t *testing.T) {
	m := buildRaw(t, eomBytes())
	require.Equal(t, Ok, Validate(m))
}

func TestValidateIncompleteWithoutEOF(t *testing.T) {
	// Next-Protocol header declares a 2-byte body, but only the header
	// bytes are present -- message continues to arrive.
	m := buildRaw(t, []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x00})
	m.length -= 2 // truncate the declared body
	require.Equal(t, Incomplete, Validate(m))
}

func TestValidateErrorWhenTruncatedAfterEOF(t *testing.T) {
	m := buildRaw(t, []byte{0x00, 0x01, 0x00, 0x02})
	m.SetEOF()
	require.Equal(t, Error, Validate(m))
}

func TestValidateRejectsTrailingRecordAfterEOM(t *testing.T) {
	m := buildRaw(t, eomBytes(), eomBytes())
	require.Equal(t, Error, Validate(m))
}

func TestValidateOkForWellFormedMessage(t *testing.T) {
	m := &MessageBuffer{}
	require.True(t, AppendRecord(m, true, TypeNextProtocol, []byte{0x00, 0x00}))
	require.True(t, AppendRecord(m, true, TypeEndOfMessage, nil))
	require.Equal(t, Ok, Validate(m))
}

func TestAppendRecordRejectsOversizedBody(t *testing.T) {
	m := &MessageBuffer{}
	require.False(t, AppendRecord(m, false, TypeCookie, make([]byte, maxBodyLen+1)))
}

func TestAppendRecordRejectsBufferOverflow(t *testing.T) {
	m := &MessageBuffer{}
	require.True(t, m.Append(make([]byte, BufferCapacity-2)))
	require.False(t, AppendRecord(m, false, TypeCookie, []byte("ab")))
}
