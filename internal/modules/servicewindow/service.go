package servicewindow

import (
	"context"
	"errors"
	"time"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/modules/policy"
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/clock"
	"dentalclinic/internal/repository"
)

type UpdateRequest struct {
	StartOfDay  string   `json:"startOfDay" validate:"required,hhmm"`
	EndOfDay    string   `json:"endOfDay" validate:"required,hhmm"`
	Timezone    string   `json:"timezone" validate:"required"`
	AlertEmails []string `json:"alertEmails" validate:"omitempty,dive,email"`
	Active      *bool    `json:"active"`
}

type View struct {
	StartOfDay  string   `json:"startOfDay"`
	EndOfDay    string   `json:"endOfDay"`
	Timezone    string   `json:"timezone"`
	Active      bool     `json:"active"`
	AlertEmails []string `json:"alertEmails"`
}

func toView(w *domain.ServiceWindow) *View {
	return &View{
		StartOfDay:  w.StartOfDay,
		EndOfDay:    w.EndOfDay,
		Timezone:    w.Timezone,
		Active:      w.Active,
		AlertEmails: w.Emails(),
	}
}

type Service struct {
	store *repository.Store
	clock clock.Clock
}

func NewService(store *repository.Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// Get returns the calling admin's window.
func (s *Service) Get(ctx context.Context, actor policy.Actor) (*View, error) {
	if err := policy.Authorise(actor, policy.OpManageServiceWindow, policy.Resource{}); err != nil {
		return nil, err
	}
	w, err := s.store.ServiceWindows.GetByAdmin(ctx, actor.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("service window")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return toView(w), nil
}

// Put creates or replaces the calling admin's window.
func (s *Service) Put(ctx context.Context, actor policy.Actor, req UpdateRequest) (*View, error) {
	if err := policy.Authorise(actor, policy.OpManageServiceWindow, policy.Resource{}); err != nil {
		return nil, err
	}
	start, err := policy.ParseClock(req.StartOfDay)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeValidation, "startOfDay must be HH:MM")
	}
	end, err := policy.ParseClock(req.EndOfDay)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeValidation, "endOfDay must be HH:MM")
	}
	if start >= end {
		return nil, apperr.Validation(apperr.CodeValidation, "startOfDay must be before endOfDay")
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, apperr.Validation(apperr.CodeValidation, "unknown timezone "+req.Timezone)
	}

	now := s.clock.Now()
	w, err := s.store.ServiceWindows.GetByAdmin(ctx, actor.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		w = &domain.ServiceWindow{AdminRef: actor.UserID, Active: true, CreatedAt: now}
	case err != nil:
		return nil, apperr.Internal(err)
	}
	w.StartOfDay = req.StartOfDay
	w.EndOfDay = req.EndOfDay
	w.Timezone = req.Timezone
	w.SetEmails(req.AlertEmails)
	if req.Active != nil {
		w.Active = *req.Active
	}
	w.UpdatedAt = now
	if err := s.store.ServiceWindows.Save(ctx, w); err != nil {
		return nil, apperr.Internal(err)
	}
	return toView(w), nil
}
