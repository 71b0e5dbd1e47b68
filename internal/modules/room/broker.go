package room

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/pkg/idgen"
	"dentalclinic/internal/repository"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type Config struct {
	PreJoin      time.Duration
	Grace        time.Duration
	MaxDuration  time.Duration
	Secret       string
	SignalingURL string
}

// Credentials are what a participant needs to enter a room.
type Credentials struct {
	RoomID     string    `json:"roomId"`
	JoinToken  string    `json:"joinToken"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
}

// JoinClaims bind a join token to one room and one participant.
type JoinClaims struct {
	RoomID  string `json:"room_id"`
	UserRef int64  `json:"user_ref"`
	Role    string `json:"role"`
	jwtlib.RegisteredClaims
}

type JoinInfo struct {
	RoomID       string    `json:"roomId"`
	Role         string    `json:"role"`
	SignalingURL string    `json:"signalingUrl"`
	ValidUntil   time.Time `json:"validUntil"`
}

type Broker struct {
	cfg   Config
	store *repository.Store
	ids   idgen.Generator
	clock clock.Clock
	hub   *Hub
	log   zerolog.Logger
}

func NewBroker(cfg Config, store *repository.Store, ids idgen.Generator, clk clock.Clock, hub *Hub, log zerolog.Logger) *Broker {
	return &Broker{
		cfg:   cfg,
		store: store,
		ids:   ids,
		clock: clk,
		hub:   hub,
		log:   log.With().Str("component", "room").Logger(),
	}
}

// Validity returns the join window for an appointment starting at scheduledAt.
func (b *Broker) Validity(scheduledAt time.Time) (time.Time, time.Time) {
	from := scheduledAt.Add(-b.cfg.PreJoin)
	until := scheduledAt.Add(b.cfg.Grace)
	if capped := from.Add(b.cfg.MaxDuration); capped.Before(until) {
		until = capped
	}
	return from, until
}

// Mint creates the room for a confirming appointment inside the caller's
// transaction and returns patient credentials.
func (b *Broker) Mint(ctx context.Context, tx *repository.Store, appt *domain.Appointment) (*Credentials, error) {
	if appt.DoctorRef == nil {
		return nil, apperr.Validation(apperr.CodeValidation, "appointment has no assigned doctor")
	}
	from, until := b.Validity(appt.ScheduledAt)
	r := &domain.Room{
		RoomID:         b.ids.RoomID(),
		AppointmentRef: appt.ID,
		PatientRef:     appt.PatientRef,
		DoctorRef:      *appt.DoctorRef,
		ValidFrom:      from,
		ValidUntil:     until,
		CreatedAt:      b.clock.Now(),
	}
	if err := tx.Rooms.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	token, err := b.sign(r, r.PatientRef)
	if err != nil {
		return nil, err
	}
	return &Credentials{RoomID: r.RoomID, JoinToken: token, ValidFrom: from, ValidUntil: until}, nil
}

// IssueToken signs fresh credentials for a participant of roomID.
func (b *Broker) IssueToken(ctx context.Context, actor policy.Actor, roomID string) (*Credentials, error) {
	r, err := b.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorise(actor, policy.OpJoinRoom, policy.Resource{OwnerRef: r.PatientRef, DoctorRef: &r.DoctorRef}); err != nil {
		if apperr.As(err).Kind == apperr.KindForbidden {
			return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotParticipant, "not a participant of this room")
		}
		return nil, err
	}
	if r.Revoked {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeRevoked, "room has been revoked")
	}
	if !b.clock.Now().Before(r.ValidUntil) {
		return nil, apperr.New(apperr.KindAuth, apperr.CodeTokenExpired, "room is no longer valid")
	}
	token, err := b.sign(r, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &Credentials{RoomID: r.RoomID, JoinToken: token, ValidFrom: r.ValidFrom, ValidUntil: r.ValidUntil}, nil
}

// Join checks the token against the room and the authenticated caller.
func (b *Broker) Join(ctx context.Context, actor policy.Actor, roomID, token string) (*JoinInfo, error) {
	r, claims, err := b.Authorize(ctx, roomID, token)
	if err != nil {
		return nil, err
	}
	if claims.UserRef != actor.UserID {
		return nil, apperr.New(apperr.KindForbidden, apperr.CodeNotParticipant, "token was issued to another user")
	}
	signaling := b.cfg.SignalingURL
	if signaling != "" {
		signaling = signaling + "/" + url.PathEscape(r.RoomID) + "?token=" + url.QueryEscape(token)
	}
	return &JoinInfo{RoomID: r.RoomID, Role: claims.Role, SignalingURL: signaling, ValidUntil: r.ValidUntil}, nil
}

// Authorize validates a join token for roomID without an authenticated
// session; the signaling socket relies on it.
func (b *Broker) Authorize(ctx context.Context, roomID, token string) (*domain.Room, *JoinClaims, error) {
	r, err := b.load(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	claims, err := b.VerifyToken(token)
	if err != nil {
		return nil, nil, err
	}
	if claims.RoomID != r.RoomID {
		return nil, nil, apperr.New(apperr.KindAuth, apperr.CodeTokenInvalid, "token is for another room")
	}
	if r.ParticipantRole(claims.UserRef) == "" {
		return nil, nil, apperr.New(apperr.KindForbidden, apperr.CodeNotParticipant, "not a participant of this room")
	}
	if r.Revoked {
		return nil, nil, apperr.New(apperr.KindForbidden, apperr.CodeRevoked, "room has been revoked")
	}
	return r, claims, nil
}

func (b *Broker) VerifyToken(token string) (*JoinClaims, error) {
	claims := &JoinClaims{}
	_, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(b.cfg.Secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithTimeFunc(b.clock.Now))
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return nil, apperr.New(apperr.KindAuth, apperr.CodeTokenExpired, "join token has expired")
	default:
		return nil, apperr.Wrap(apperr.KindAuth, apperr.CodeTokenInvalid, "join token is not valid", err)
	}
}

// Revoke flags the room inside the caller's transaction. Live sockets are
// closed by Disconnect once the transaction commits.
func (b *Broker) Revoke(ctx context.Context, tx *repository.Store, roomID string) error {
	return tx.Rooms.Revoke(ctx, roomID, b.clock.Now())
}

func (b *Broker) Disconnect(roomID string) {
	if b.hub != nil {
		b.hub.CloseRoom(roomID)
	}
}

func (b *Broker) load(ctx context.Context, roomID string) (*domain.Room, error) {
	r, err := b.store.Rooms.GetByRoomID(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeRoomNotFound, "room not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return r, nil
}

func (b *Broker) sign(r *domain.Room, userRef int64) (string, error) {
	claims := JoinClaims{
		RoomID:  r.RoomID,
		UserRef: userRef,
		Role:    r.ParticipantRole(userRef),
		RegisteredClaims: jwtlib.RegisteredClaims{
			NotBefore: jwtlib.NewNumericDate(r.ValidFrom),
			ExpiresAt: jwtlib.NewNumericDate(r.ValidUntil),
			IssuedAt:  jwtlib.NewNumericDate(b.clock.Now()),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(b.cfg.Secret))
	if err != nil {
		return "", apperr.Internal(err)
	}
	return token, nil
}
