package payment

import (
	"context"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/pkg/apperr"
)

var errBadSignature = apperr.Validation(apperr.CodeBadSignature, "callback signature verification failed")

// HandleCallback verifies and applies one gateway event. Only a bad
// signature is surfaced as an error; every other failure is logged and
// reported as handled so the gateway does not retry-storm.
func (s *Service) HandleCallback(ctx context.Context, raw []byte, signature string) (*CallbackResult, error) {
	if !s.gateway.VerifySignature(raw, signature) {
		s.metrics.Callback("bad_signature")
		s.log.Warn().Int("body_bytes", len(raw)).Msg("gateway callback rejected: bad signature")
		return nil, errBadSignature
	}

	res, err := s.gateway.DecodeCallback(raw)
	if err != nil {
		s.metrics.Callback("malformed")
		s.log.Error().Err(err).Msg("gateway callback payload could not be decoded")
		return &CallbackResult{Outcome: "malformed"}, nil
	}

	out, err := s.applyResult(ctx, res, domain.SourceCallback)
	if err != nil {
		s.metrics.Callback("error")
		s.log.Error().Err(err).
			Str("merchant_txn_id", res.MerchantTxnID).
			Str("gateway_status", string(res.Status)).
			Msg("gateway callback could not be applied")
		return &CallbackResult{Outcome: "error", MerchantTxnID: res.MerchantTxnID}, nil
	}

	s.metrics.Callback(string(out))
	ev := s.log.Info()
	if out == outcomeConflict || out == outcomeAmountMismatch || out == outcomeUnknownPayment || out == outcomeLateCapture {
		ev = s.log.Warn()
	}
	ev.Str("merchant_txn_id", res.MerchantTxnID).
		Str("gateway_order_id", res.GatewayOrderID).
		Str("gateway_status", string(res.Status)).
		Str("outcome", string(out)).
		Msg("gateway callback handled")
	return &CallbackResult{Outcome: string(out), MerchantTxnID: res.MerchantTxnID}, nil
}
