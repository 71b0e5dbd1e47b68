package reservation

import "context"

// SlotLocker serialises reservation attempts for one slot across replicas.
type SlotLocker interface {
	WithSlotLock(ctx context.Context, slot string, fn func(ctx context.Context) error) error
}
