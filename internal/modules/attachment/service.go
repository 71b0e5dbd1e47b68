package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/objectstore"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/repository"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	bucket         = "appointments"
	defaultMaxSize = 20 << 20
	defaultTimeout = 5 * time.Second
)

// allowedTypes are the dental images and reports accepted from participants.
var allowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"application/pdf",
	"application/dicom",
}

var (
	errEmptyFile       = apperr.Validation(apperr.CodeEmptyFile, "file is empty")
	errFileTooLarge    = apperr.Validation(apperr.CodeFileTooLarge, "file exceeds maximum allowed size")
	errUnsupportedType = apperr.Validation(apperr.CodeUnsupportedType, "file type is not allowed")
)

type Config struct {
	MaxSize int64
	// Timeout bounds each object store write.
	Timeout time.Duration
}

type Service struct {
	store   *repository.Store
	objects objectstore.Store
	clock   clock.Clock
	cfg     Config
	log     zerolog.Logger
}

func NewService(store *repository.Store, objects objectstore.Store, clk clock.Clock, cfg Config, log zerolog.Logger) *Service {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Service{store: store, objects: objects, clock: clk, cfg: cfg, log: log}
}

// Upload stores one file against an appointment. The type is sniffed from
// the content; the client-declared type is ignored.
func (s *Service) Upload(ctx context.Context, actor policy.Actor, appointmentID int64, filename string, r io.Reader) (*domain.Attachment, error) {
	appt, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorise(actor, policy.OpUploadAttachment, resourceOf(appt)); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxSize+1))
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("read upload: %w", err))
	}
	if len(data) == 0 {
		return nil, errEmptyFile
	}
	if int64(len(data)) > s.cfg.MaxSize {
		return nil, errFileTooLarge
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedTypes...) {
		return nil, errUnsupportedType
	}

	id := uuid.NewString()
	key := fmt.Sprintf("%d/%s%s", appt.ID, id, mt.Extension())

	putCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	url, err := s.objects.Put(putCtx, bucket, key, data, mt.String())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindUpstreamTransient, apperr.CodeUpstreamUnavailable, "object store timed out", err)
		}
		return nil, apperr.Internal(fmt.Errorf("store object: %w", err))
	}

	a := &domain.Attachment{
		ID:             id,
		AppointmentRef: appt.ID,
		UploaderRef:    actor.UserID,
		OriginalName:   cleanName(filename),
		ObjectKey:      bucket + "/" + key,
		URL:            url,
		MimeType:       mt.String(),
		Size:           int64(len(data)),
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.Attachments.Create(ctx, a); err != nil {
		return nil, apperr.Internal(fmt.Errorf("save attachment: %w", err))
	}

	s.log.Info().
		Int64("appointment_id", appt.ID).
		Str("attachment_id", a.ID).
		Str("mime_type", a.MimeType).
		Int64("size", a.Size).
		Msg("attachment stored")
	return a, nil
}

func (s *Service) List(ctx context.Context, actor policy.Actor, appointmentID int64) ([]domain.Attachment, error) {
	appt, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorise(actor, policy.OpListAttachments, resourceOf(appt)); err != nil {
		return nil, err
	}
	out, err := s.store.Attachments.ListByAppointment(ctx, appt.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) appointment(ctx context.Context, id int64) (*domain.Appointment, error) {
	appt, err := s.store.Appointments.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("appointment")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return appt, nil
}

func resourceOf(a *domain.Appointment) policy.Resource {
	return policy.Resource{OwnerRef: a.PatientRef, DoctorRef: a.DoctorRef}
}

func cleanName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
