package policy

import (
	"testing"

	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/jwt"

	"github.com/stretchr/testify/assert"
)

func TestAuthorise_Matrix(t *testing.T) {
	doctor := int64(7)
	owned := Resource{OwnerRef: 42, DoctorRef: &doctor}

	patient := Actor{UserID: 42, Role: jwt.RoleUser}
	stranger := Actor{UserID: 43, Role: jwt.RoleUser}
	assigned := Actor{UserID: 7, Role: jwt.RoleDoctor}
	otherDoctor := Actor{UserID: 8, Role: jwt.RoleDoctor}
	admin := Actor{UserID: 1, Role: jwt.RoleAdmin}

	tests := []struct {
		op      Op
		actor   Actor
		allowed bool
	}{
		{OpCreateVirtualAppointment, patient, true},
		{OpCreateVirtualAppointment, admin, true},
		{OpCreateVirtualAppointment, assigned, false},
		{OpInitiatePayment, patient, true},
		{OpInitiatePayment, stranger, false},
		{OpInitiatePayment, admin, false},
		{OpViewPaymentStatus, patient, true},
		{OpViewPaymentStatus, admin, true},
		{OpViewPaymentStatus, assigned, false},
		{OpJoinRoom, patient, true},
		{OpJoinRoom, assigned, true},
		{OpJoinRoom, otherDoctor, false},
		{OpJoinRoom, admin, false},
		{OpManageServiceWindow, admin, true},
		{OpManageServiceWindow, patient, false},
		{OpManageRedeemCodes, assigned, false},
		{OpCancelAppointment, patient, true},
		{OpCancelAppointment, stranger, false},
		{OpViewAppointment, assigned, true},
	}
	for _, tt := range tests {
		err := Authorise(tt.actor, tt.op, owned)
		if tt.allowed {
			assert.NoError(t, err, "%s as %+v", tt.op, tt.actor)
		} else {
			assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err), "%s as %+v", tt.op, tt.actor)
		}
	}
}

func TestAuthorise_Anonymous(t *testing.T) {
	err := Authorise(Actor{}, OpViewPaymentStatus, Resource{OwnerRef: 42})
	assert.Equal(t, apperr.KindAuth, apperr.As(err).Kind)
}
