package policy

import (
	"dentalclinic/internal/pkg/apperr"
	"dentalclinic/internal/pkg/jwt"
)

// Actor is the authenticated caller carried through the call chain.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == jwt.RoleAdmin }

type Op string

const (
	OpCreateVirtualAppointment Op = "create_virtual_appointment"
	OpViewAppointment          Op = "view_appointment"
	OpCancelAppointment        Op = "cancel_appointment"
	OpInitiatePayment          Op = "initiate_payment"
	OpViewPaymentStatus        Op = "view_payment_status"
	OpJoinRoom                 Op = "join_room"
	OpValidateRedeemCode       Op = "validate_redeem_code"
	OpManageServiceWindow      Op = "manage_service_window"
	OpManageRedeemCodes        Op = "manage_redeem_codes"
	OpRefundPayment            Op = "refund_payment"
	OpManageReconciliations    Op = "manage_reconciliations"
	OpUploadAttachment         Op = "upload_attachment"
	OpListAttachments          Op = "list_attachments"
)

// Resource identifies who owns the thing being acted on.
type Resource struct {
	OwnerRef  int64
	DoctorRef *int64
}

func (r Resource) ownedBy(a Actor) bool {
	return r.OwnerRef != 0 && r.OwnerRef == a.UserID
}

func (r Resource) assignedTo(a Actor) bool {
	return r.DoctorRef != nil && *r.DoctorRef == a.UserID
}

// Authorise applies the role matrix. Patients act as role "user".
func Authorise(actor Actor, op Op, res Resource) error {
	if actor.UserID <= 0 || actor.Role == "" {
		return apperr.New(apperr.KindAuth, apperr.CodeUnauthorized, "authentication required")
	}

	user := actor.Role == jwt.RoleUser
	doctor := actor.Role == jwt.RoleDoctor
	admin := actor.IsAdmin()

	var ok bool
	switch op {
	case OpCreateVirtualAppointment:
		ok = (user && (res.OwnerRef == 0 || res.ownedBy(actor))) || admin
	case OpInitiatePayment, OpCancelAppointment:
		ok = user && res.ownedBy(actor)
	case OpViewPaymentStatus:
		ok = (user && res.ownedBy(actor)) || admin
	case OpJoinRoom:
		ok = (user && res.ownedBy(actor)) || (doctor && res.assignedTo(actor))
	case OpViewAppointment, OpListAttachments:
		ok = (user && res.ownedBy(actor)) || (doctor && res.assignedTo(actor)) || admin
	case OpUploadAttachment:
		ok = (user && res.ownedBy(actor)) || (doctor && res.assignedTo(actor))
	case OpValidateRedeemCode:
		ok = user || admin
	case OpManageServiceWindow, OpManageRedeemCodes, OpRefundPayment, OpManageReconciliations:
		ok = admin
	}
	if !ok {
		return apperr.Forbidden("operation not permitted for this account")
	}
	return nil
}
