package payment

import (
	"context"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/room"
	"dentalclinic/internal/repository"
)

type gatewayClient interface {
	CreateSession(ctx context.Context, in gateway.SessionRequest) (*gateway.Session, error)
	FetchStatus(ctx context.Context, merchantTxnID string) (*gateway.StatusResult, error)
	Cancel(ctx context.Context, merchantTxnID string) error
	VerifySignature(raw []byte, header string) bool
	DecodeCallback(raw []byte) (*gateway.StatusResult, error)
}

type roomBroker interface {
	Mint(ctx context.Context, tx *repository.Store, appt *domain.Appointment) (*room.Credentials, error)
	Revoke(ctx context.Context, tx *repository.Store, roomID string) error
	Disconnect(roomID string)
}
