package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/canonical"
	"github.com/turtacn/lct/pkg/errors"
)

// Signer computes tamper-evidence signatures over audit events.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer keyed with secret. An empty secret is rejected.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.ErrInvalidArgument("audit.hmac_secret must not be empty")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the base64 HMAC-SHA256 of the canonical encoding of event,
// excluding its Signature field.
func (s *Signer) Sign(event *models.AuditEvent) (string, error) {
	unsigned := *event
	unsigned.Signature = ""
	payload, err := canonical.EncodeValue(&unsigned)
	if err != nil {
		return "", errors.ErrInternal("encode audit event: " + err.Error())
	}

	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether event carries a valid signature.
func (s *Signer) Verify(event *models.AuditEvent) bool {
	if event.Signature == "" {
		return false
	}
	want, err := s.Sign(event)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(event.Signature))
}

// SigningSink signs every event before handing it to the next sink.
type SigningSink struct {
	signer *Signer
	next   service.AuditService
}

var _ service.AuditService = (*SigningSink)(nil)

func NewSigningSink(signer *Signer, next service.AuditService) *SigningSink {
	return &SigningSink{signer: signer, next: next}
}

func (s *SigningSink) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	sig, err := s.signer.Sign(event)
	if err != nil {
		return err
	}
	event.Signature = sig
	return s.next.LogEvent(ctx, event)
}
