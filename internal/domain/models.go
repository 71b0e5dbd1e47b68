package domain

// Models lists every persisted entity in migration order.
func Models() []any {
	return []any{
		&ServiceWindow{},
		&RedeemCode{},
		&Appointment{},
		&Payment{},
		&PaymentTransition{},
		&RedemptionRecord{},
		&Room{},
		&Reconciliation{},
		&Attachment{},
	}
}
