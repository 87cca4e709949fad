// Package keyring implements the server-side key ring that seals and
// opens NTS cookies: a fixed 4-slot ring of AES-SIV-CMAC-256 keys,
// rotated on a timer, identified by short ids that fold a ring index
// into their low bits.
package keyring

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ddrown/chrony-nts/internal/aead"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
)

// RingSize is the fixed number of key slots.
const RingSize = 4

// IndexBits is the number of low bits of a key id that select a ring slot.
const IndexBits = 2

// DefaultRotationPeriod is how often the ring rotates in production.
const DefaultRotationPeriod = time.Hour

type slot struct {
	id  uint32
	siv *aead.SIV
}

// RotationEvent records one rotation for operator visibility
// (cmd/nts-ke-server's cookie-stats subcommand reads this history).
type RotationEvent struct {
	Timestamp time.Time
	Slot      int
	KeyID     uint32
}

// Ring is the process-wide server key ring. The zero value is not usable;
// construct with New. Ring is safe for concurrent use, though per
// spec.md §5 in the production event loop it has a single writer
// (the rotation timer) and synchronous readers.
type Ring struct {
	mu       sync.RWMutex
	slots    [RingSize]slot
	current  int
	log      logger.Logger
	history  []RotationEvent
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a ring with its first slot already populated, so cookies can
// be sealed immediately after construction.
func New(log logger.Logger) (*Ring, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	r := &Ring{log: log, stop: make(chan struct{})}
	if err := r.rotateOnce(); err != nil {
		return nil, fmt.Errorf("keyring: initial key generation: %w", err)
	}
	return r, nil
}

// StartRotation begins rotating the ring every period until Stop is
// called. It owns a background goroutine, the fallback used when no
// external event-loop timer collaborator is wired in (see
// internal/ntske.EventLoop for the cooperative alternative).
func (r *Ring) StartRotation(period time.Duration) {
	if period <= 0 {
		period = DefaultRotationPeriod
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.rotateOnce(); err != nil {
					r.log.Error("key ring rotation failed", logger.Error(err))
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop ends the background rotation goroutine started by StartRotation.
func (r *Ring) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// RotateNow forces an out-of-band rotation, used by the rotate-now
// operator command and by tests exercising invariant 4.
func (r *Ring) RotateNow() error {
	return r.rotateOnce()
}

func (r *Ring) rotateOnce() error {
	key := make([]byte, aead.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("keyring: reading random key: %w", err)
	}

	siv, err := aead.New(key)
	if err != nil {
		return fmt.Errorf("keyring: building SIV engine: %w", err)
	}

	var idBuf [4]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return fmt.Errorf("keyring: reading random key id: %w", err)
	}
	randomID := binary.BigEndian.Uint32(idBuf[:])

	r.mu.Lock()
	r.current = (r.current + 1) % RingSize
	idx := r.current
	id := (randomID &^ (RingSize - 1)) | uint32(idx)
	r.slots[idx] = slot{id: id, siv: siv}
	r.history = append(r.history, RotationEvent{Timestamp: time.Now(), Slot: idx, KeyID: id})
	r.mu.Unlock()

	metrics.KeyRingRotations.Inc()
	metrics.KeyRingActiveSlot.Set(float64(idx))
	r.log.Info("key ring rotated", logger.Int("slot", idx), logger.Any("key_id", id))

	return nil
}

// Current returns the id and SIV engine of the active slot, used to seal
// fresh cookies.
func (r *Ring) Current() (uint32, *aead.SIV) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.slots[r.current]
	return s.id, s.siv
}

// Lookup resolves a cookie's key_id to its SIV engine. It fails if the
// slot the id's low bits select has since been rotated to a different id
// -- the id is stale.
func (r *Ring) Lookup(keyID uint32) (*aead.SIV, bool) {
	idx := int(keyID) & (RingSize - 1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.slots[idx]
	if s.siv == nil || s.id != keyID {
		return nil, false
	}
	return s.siv, true
}

// History returns a copy of the rotation history, newest first.
func (r *Ring) History() []RotationEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RotationEvent, len(r.history))
	for i, e := range r.history {
		out[len(r.history)-1-i] = e
	}
	return out
}
