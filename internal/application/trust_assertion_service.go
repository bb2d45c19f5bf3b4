package application

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// TrustAssertionService issues EdDSA-signed JWTs carrying an entity's trust snapshot.
// Tokens are signed by the entity's own current key through the key rotation
// manager; the kid header is "entity#version".
// TrustAssertionService 签发携带实体信任快照的 EdDSA JWT，令牌由实体当前密钥经密钥轮换管理器签名。
type TrustAssertionService struct {
	identities *IdentityService
	keys       *KeyRotationManager
	issuer     string
	ttl        time.Duration
	audit      *auditRecorder
	logger     logger.Logger
	clock      func() time.Time
}

// NewTrustAssertionService creates a new TrustAssertionService.
func NewTrustAssertionService(
	identities *IdentityService,
	keys *KeyRotationManager,
	cfg *config.AssertionConfig,
	log logger.Logger,
	opts ...Option,
) *TrustAssertionService {
	issuer, ttl := constants.TrustAssertionIssuer, constants.DefaultTrustAssertionTTL
	if cfg != nil {
		if cfg.Issuer != "" {
			issuer = cfg.Issuer
		}
		if cfg.TTL > 0 {
			ttl = cfg.TTL
		}
	}
	o := buildOptions(opts)
	log = log.WithComponent("TrustAssertionService")
	return &TrustAssertionService{
		identities: identities,
		keys:       keys,
		issuer:     issuer,
		ttl:        ttl,
		audit:      &auditRecorder{sink: identities.audit.sink, logger: log},
		logger:     log,
		clock:      o.clock,
	}
}

// Issue signs a trust assertion for entityID.
// Issue 为 entityID 签发信任断言。
func (s *TrustAssertionService) Issue(ctx context.Context, entityID string) (string, *models.TrustAssertionClaims, error) {
	snapshot, err := s.identities.Snapshot(entityID)
	if err != nil {
		return "", nil, err
	}

	// A rotation between choosing the kid and signing changes the version; retry once.
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.keys.CurrentKey(entityID)
		if err != nil {
			return "", nil, err
		}

		now := s.clock()
		claims := &models.TrustAssertionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    s.issuer,
				Subject:   entityID,
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			},
			TrustScore:   snapshot.TrustScore,
			Reputation:   snapshot.Reputation,
			Interactions: snapshot.Interactions,
			KeyVersion:   current.Version,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		token.Header["kid"] = current.KeyID()

		signingString, err := token.SigningString()
		if err != nil {
			return "", nil, errors.ErrInternal(fmt.Sprintf("build trust assertion: %v", err))
		}
		sig, version, err := s.keys.SignData(ctx, entityID, []byte(signingString))
		if err != nil {
			return "", nil, err
		}
		if version != current.Version {
			continue
		}

		s.logger.Info(ctx, "Trust assertion issued",
			logger.String("entity_id", entityID),
			logger.String("jti", claims.ID),
			logger.Float64("trust_score", claims.TrustScore),
		)
		s.audit.record(ctx, models.NewAuditEvent(constants.AuditEventTrustAssertion, entityID, true, "trust assertion issued").
			WithMetadata("jti", claims.ID).
			WithMetadata("key_version", version))
		return signingString + "." + token.EncodeSegment(sig), claims, nil
	}
	return "", nil, errors.ErrInternal("key rotated repeatedly while issuing trust assertion")
}

// Verify parses and checks a trust assertion. The signing key version must not be
// revoked and must have been valid when the token was issued.
// Verify 解析并检查信任断言；签名密钥版本不得被撤销，且在签发时必须有效。
func (s *TrustAssertionService) Verify(ctx context.Context, tokenString string) (*models.TrustAssertionClaims, error) {
	claims := &models.TrustAssertionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		s.logger.Debug(ctx, "Trust assertion rejected", logger.Err(err))
		return nil, errors.ErrMalformedSignature(err.Error())
	}
	return claims, nil
}

func (s *TrustAssertionService) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("missing kid in header")
	}
	entityID, version, err := parseKeyID(kid)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*models.TrustAssertionClaims)
	if !ok || claims.Subject != entityID || claims.KeyVersion != version {
		return nil, fmt.Errorf("kid %s does not match the token subject", kid)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("missing iat")
	}

	key, err := s.keys.KeyVersion(entityID, version)
	if err != nil {
		return nil, err
	}
	// iat is truncated to the claim precision; the signing instant lies within
	// [iat, iat+precision).
	issued := claims.IssuedAt.Time
	if !key.ValidAt(issued) && !key.ValidAt(issued.Add(jwt.TimePrecision-time.Nanosecond)) {
		return nil, fmt.Errorf("key %s was not valid at issuance (%s)", kid, key.Status)
	}
	return ed25519.PublicKey(key.PublicKey), nil
}

func parseKeyID(kid string) (string, int, error) {
	i := strings.LastIndexByte(kid, '#')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed kid %q", kid)
	}
	version, err := strconv.Atoi(kid[i+1:])
	if err != nil || version <= 0 {
		return "", 0, fmt.Errorf("malformed kid %q", kid)
	}
	return kid[:i], version, nil
}
