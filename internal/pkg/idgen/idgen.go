package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator issues opaque identifiers shared with external systems.
type Generator interface {
	MerchantTxnID() string
	RoomID() string
}

// UUID generates random v4 identifiers, safe across replicas.
type UUID struct{}

func NewUUID() UUID {
	return UUID{}
}

// MerchantTxnID stays within the gateway's 63-char alphanumeric limit.
func (UUID) MerchantTxnID() string {
	return "T" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (UUID) RoomID() string {
	return "room-" + uuid.NewString()
}

// Sequence yields predictable ids (T-0001, room-0001, ...). Tests only.
type Sequence struct {
	txn  atomic.Int64
	room atomic.Int64
}

func (s *Sequence) MerchantTxnID() string {
	return fmt.Sprintf("T-%04d", s.txn.Add(1))
}

func (s *Sequence) RoomID() string {
	return fmt.Sprintf("room-%04d", s.room.Add(1))
}
