// Package cookie implements the canonical NTS cookie format: a server
// key id, a nonce, and a SIV-sealed ciphertext binding the client/server
// traffic keys to a key-ring slot.
package cookie

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ddrown/chrony-nts/internal/keyring"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
)

// KeySize is the length of each of the C2S and S2C exporter keys.
const KeySize = 32

// NonceSize is the length of the random nonce sealed into a cookie.
const NonceSize = 16

// Size is the canonical wire length of a sealed cookie:
// key_id(4) + nonce(16) + ciphertext(64 plaintext + 16 SIV tag).
const Size = 4 + NonceSize + 2*KeySize + 16

// Source identifies which code path minted a cookie, for the
// CookiesIssued metric: a fresh KE exchange, or a client's NTP response
// being replenished with a server-issued replacement.
type Source string

const (
	SourceKEExchange  Source = "ke_exchange"
	SourceNTPResponse Source = "ntp_response"
)

// Seal binds (c2s, s2c) to the ring's currently active key, returning the
// canonical 100-byte cookie.
func Seal(ring *keyring.Ring, c2s, s2c []byte, source Source) ([]byte, error) {
	if len(c2s) != KeySize || len(s2c) != KeySize {
		return nil, fmt.Errorf("cookie: c2s/s2c must each be %d bytes", KeySize)
	}

	keyID, siv := ring.Current()

	// Sealed with empty associated data below, so this nonce never enters
	// the SIV computation -- it is opaque filler carried on the wire only
	// to make two cookies for the same (c2s, s2c) look distinct at rest.
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cookie: reading nonce: %w", err)
	}

	plaintext := make([]byte, 0, 2*KeySize)
	plaintext = append(plaintext, c2s...)
	plaintext = append(plaintext, s2c...)

	ciphertext := siv.Seal(plaintext) // empty associated data, per spec.md §4.E

	out := make([]byte, 0, Size)
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], keyID)
	out = append(out, idBuf[:]...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	metrics.CookiesIssued.WithLabelValues(string(source)).Inc()

	return out, nil
}

// Open recovers (c2s, s2c) from a sealed cookie, failing if the length is
// wrong, the key id is unknown (rotated out), or the SIV tag does not
// verify.
func Open(ring *keyring.Ring, sealed []byte) (c2s, s2c []byte, err error) {
	if len(sealed) != Size {
		metrics.CookieOpenFailures.WithLabelValues("malformed").Inc()
		return nil, nil, logger.NewNTSError(logger.ErrCodeCookieOpenFailed,
			fmt.Sprintf("expected %d bytes, got %d", Size, len(sealed)), nil)
	}

	keyID := binary.BigEndian.Uint32(sealed[:4])
	ciphertext := sealed[4+NonceSize:]

	siv, ok := ring.Lookup(keyID)
	if !ok {
		metrics.CookieOpenFailures.WithLabelValues("unknown_key_id").Inc()
		return nil, nil, logger.NewNTSError(logger.ErrCodeCookieOpenFailed,
			fmt.Sprintf("unknown or rotated-out key id %d", keyID), nil)
	}

	plaintext, err := siv.Open(ciphertext)
	if err != nil {
		metrics.CookieOpenFailures.WithLabelValues("aead_verify_failed").Inc()
		return nil, nil, logger.NewNTSError(logger.ErrCodeCookieOpenFailed, "cookie ciphertext did not verify", err)
	}
	if len(plaintext) != 2*KeySize {
		metrics.CookieOpenFailures.WithLabelValues("malformed").Inc()
		return nil, nil, logger.NewNTSError(logger.ErrCodeCookieOpenFailed,
			fmt.Sprintf("unexpected plaintext length %d", len(plaintext)), nil)
	}

	return plaintext[:KeySize], plaintext[KeySize:], nil
}
