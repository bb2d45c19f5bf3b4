package models

import (
	"github.com/turtacn/lct/pkg/canonical"
)

// SignatureBlock is attached to a signed payload under the "signature" key.
// The public key and signature are standard base64; signed_at is ISO-8601.
type SignatureBlock struct {
	AgentID   string `json:"agent_id"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signed_at"`
}

// SignedPayload is a canonical payload with its signature block. Verification
// re-encodes the embedded payload fields and ignores the block itself.
type SignedPayload struct {
	canonical.Payload
	Signature *SignatureBlock `json:"signature,omitempty"`
}
