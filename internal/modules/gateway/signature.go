package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-VERIFY"

// Sign computes the callback signature for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the raw body in constant time.
func (c *Client) VerifySignature(raw []byte, header string) bool {
	return verify(c.cfg.ClientSecret, raw, header)
}

func verify(secret string, raw []byte, header string) bool {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hmac.Equal(got, mac.Sum(nil))
}

// DecodeCallback parses an already verified callback body.
func (c *Client) DecodeCallback(raw []byte) (*StatusResult, error) {
	return DecodeCallback(raw)
}

func DecodeCallback(raw []byte) (*StatusResult, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Op: "callback", Category: CategoryValidation, Message: "malformed callback", Err: err}
	}
	if env.Payload.MerchantOrderID == "" {
		return nil, &Error{Op: "callback", Category: CategoryValidation, Message: "missing merchantOrderId"}
	}
	res := env.Payload.result(raw, env.Event)
	if res.Status == "" {
		return nil, &Error{Op: "callback", Category: CategoryValidation, Message: "unknown order state " + env.Payload.State}
	}
	return res, nil
}
