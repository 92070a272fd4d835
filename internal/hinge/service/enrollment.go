package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hingelabs/hinge/server/internal/hinge/store"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// codeAlphabet excludes 0/O, 1/I/L and lowercase so codes survive being
// read aloud or typed from a label. Codes are pure randomness; nothing in
// a code can be reversed into a device id before redemption.
const (
	codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	codeLength   = 10

	deviceSecretLen = 32
)

// EnrollmentService issues time-limited enrollment codes and binds a code
// redemption to a new device record.
type EnrollmentService struct {
	codes  store.EnrollmentStore
	ttl    time.Duration
	audit  *AuditLog
	logger *log.Logger
}

func NewEnrollmentService(codes store.EnrollmentStore, ttl time.Duration, audit *AuditLog, logger *log.Logger) *EnrollmentService {
	return &EnrollmentService{codes: codes, ttl: ttl, audit: audit, logger: logger}
}

// IssueCode mints a fresh pending code with expires_at = now + TTL.
func (s *EnrollmentService) IssueCode(ctx context.Context, actor string) (types.EnrollmentCode, error) {
	if s.audit.Halted() {
		return types.EnrollmentCode{}, ErrChainCorrupt
	}

	now := time.Now().UTC()

	// Collisions in a 31^10 space are vanishingly rare; the retry loop
	// exists because the store enforces uniqueness, not because we expect
	// to need it.
	for attempt := 0; attempt < 3; attempt++ {
		value, err := randomCode()
		if err != nil {
			return types.EnrollmentCode{}, err
		}
		code := types.EnrollmentCode{
			Code:      value,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.ttl),
			Status:    types.CodePending,
		}
		err = s.codes.Insert(ctx, code)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return types.EnrollmentCode{}, err
		}
		if _, err := s.audit.Append(ctx, actor, "enrollment.code_issued", "code:"+value, ""); err != nil {
			return types.EnrollmentCode{}, err
		}
		return code, nil
	}
	return types.EnrollmentCode{}, fmt.Errorf("issue code: exhausted uniqueness retries")
}

// RedeemCode atomically flips a pending code to used and creates the
// device. A concurrent double-redeem creates exactly one device; the loser
// gets ErrCodeAlreadyUsed and the race is audited as an invariant
// violation.
func (s *EnrollmentService) RedeemCode(ctx context.Context, code string, meta types.DeviceMeta) (types.Device, error) {
	if s.audit.Halted() {
		return types.Device{}, ErrChainCorrupt
	}

	now := time.Now().UTC()

	c, err := s.codes.Get(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return types.Device{}, ErrCodeNotFound
	}
	if err != nil {
		return types.Device{}, err
	}

	// A pending code past its expiry is expired even if the sweeper has
	// not flipped it yet.
	if c.Status == types.CodeExpired || (c.Status == types.CodePending && !now.Before(c.ExpiresAt)) {
		return types.Device{}, ErrCodeExpired
	}
	if c.Status != types.CodePending {
		return types.Device{}, ErrCodeAlreadyUsed
	}

	secret := make([]byte, deviceSecretLen)
	if _, err := rand.Read(secret); err != nil {
		return types.Device{}, fmt.Errorf("mint device secret: %w", err)
	}

	dev := types.Device{
		DeviceID:         uuid.NewString(),
		OwnerID:          meta.OwnerID,
		FirmwareVersion:  meta.FirmwareVersion,
		HardwareRevision: meta.HardwareRevision,
		EnrolledAt:       now,
		Secret:           secret,
	}

	err = s.codes.Redeem(ctx, code, dev, now)
	if errors.Is(err, store.ErrConflict) {
		// Either a concurrent redeem won, or the code crossed its expiry
		// between the read above and the guarded update.
		if c, getErr := s.codes.Get(ctx, code); getErr == nil &&
			(c.Status == types.CodeExpired || (c.Status == types.CodePending && !now.Before(c.ExpiresAt))) {
			return types.Device{}, ErrCodeExpired
		}
		s.audit.note(ctx, "owner:"+meta.OwnerID, "enrollment.double_redeem", "code:"+code, "severity=warning concurrent redeem rejected")
		return types.Device{}, ErrCodeAlreadyUsed
	}
	if errors.Is(err, store.ErrNotFound) {
		return types.Device{}, ErrCodeNotFound
	}
	if err != nil {
		return types.Device{}, err
	}

	if _, err := s.audit.Append(ctx, "owner:"+meta.OwnerID, "enrollment.redeemed", "device:"+dev.DeviceID, "code="+code); err != nil {
		return types.Device{}, err
	}
	return dev, nil
}

// RevokeCode is a terminal transition reachable only from pending.
func (s *EnrollmentService) RevokeCode(ctx context.Context, actor, code string) error {
	if s.audit.Halted() {
		return ErrChainCorrupt
	}

	err := s.codes.Revoke(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return ErrCodeNotFound
	}
	if errors.Is(err, store.ErrConflict) {
		return ErrInvalidState
	}
	if err != nil {
		return err
	}

	_, err = s.audit.Append(ctx, actor, "enrollment.code_revoked", "code:"+code, "")
	return err
}

func randomCode() (string, error) {
	raw := make([]byte, codeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range raw {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
