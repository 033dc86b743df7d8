package service

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/audit"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/model"
	"github.com/pearconnect/connect-server/internal/util"
)

const (
	PendingCodeTTL    = 5 * time.Minute
	AdvertisedCodeTTL = 10 * time.Minute

	// expiredCodeRetention is how long a swept code keeps answering
	// CODE_EXPIRED before it degrades to CODE_INVALID.
	expiredCodeRetention = 10 * time.Minute

	codeMin   = 100000
	codeRange = 900000
)

// GenerateCode returns a uniformly random 6-digit code in 100000..999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Authority owns pairing codes: one pending code per connection that asked to
// pair, plus the advertised code shown by the host UI. It is not safe for
// concurrent use; the hub event loop is its only caller.
type Authority struct {
	tokens      *TokenIssuer
	serviceName string
	now         func() time.Time

	pending map[string]model.PendingPairing
	current model.PendingPairing
	// code -> instant after which the code is forgotten entirely
	expired map[string]time.Time
}

func NewAuthority(tokens *TokenIssuer, serviceName string) (*Authority, error) {
	return NewAuthorityWithClock(tokens, serviceName, time.Now)
}

func NewAuthorityWithClock(tokens *TokenIssuer, serviceName string, now func() time.Time) (*Authority, error) {
	a := &Authority{
		tokens:      tokens,
		serviceName: serviceName,
		now:         now,
		pending:     make(map[string]model.PendingPairing),
		expired:     make(map[string]time.Time),
	}
	if err := a.rotate(now()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authority) SetServiceName(name string) {
	a.serviceName = name
}

// SetTokenIssuer swaps the signer, e.g. after the signing secret changed.
// Tokens signed with the previous secret stop verifying.
func (a *Authority) SetTokenIssuer(tokens *TokenIssuer) {
	a.tokens = tokens
}

func (a *Authority) Tokens() *TokenIssuer {
	return a.tokens
}

// Current returns the advertised code.
func (a *Authority) Current() model.PendingPairing {
	return a.current
}

// Pending lists per-connection codes ordered by expiry.
func (a *Authority) Pending() []model.PendingPairing {
	out := make([]model.PendingPairing, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// RequestPairing allocates a fresh code for sessionID, replacing any earlier
// one for the same connection.
func (a *Authority) RequestPairing(sessionID string) (model.PairingOffer, error) {
	code, err := GenerateCode()
	if err != nil {
		return model.PairingOffer{}, err
	}

	qr, err := json.Marshal(model.QRPayload{
		Code:        code,
		ServiceName: a.serviceName,
		SessionID:   sessionID,
	})
	if err != nil {
		return model.PairingOffer{}, fmt.Errorf("encode qr payload: %w", err)
	}

	if old, ok := a.pending[sessionID]; ok {
		delete(a.expired, old.Code)
	}
	p := model.PendingPairing{
		SessionID: sessionID,
		Code:      code,
		ExpiresAt: a.now().Add(PendingCodeTTL),
	}
	a.pending[sessionID] = p

	audit.Log(audit.Event{
		Type:      audit.EventPairingRequest,
		SessionID: sessionID,
		Details:   map[string]any{"code": util.MaskCode(code)},
	})

	return model.PairingOffer{
		PairingCode: code,
		QRCode:      string(qr),
		ExpiresIn:   int(PendingCodeTTL.Seconds()),
	}, nil
}

// Verify exchanges a pairing code for a token. The code must match either the
// connection's own pending code or the advertised code, and must not have
// expired. Every successful exchange consumes the code.
//
// A code past its deadline fails with CODE_EXPIRED until it has been swept
// and then held for expiredCodeRetention; after that it is forgotten and
// fails with CODE_INVALID like any unknown code.
func (a *Authority) Verify(code, sessionID string, device model.DeviceInfo) (string, error) {
	code = strings.TrimSpace(code)
	now := a.now()

	if p, ok := a.pending[sessionID]; ok && util.ConstantTimeEqual(p.Code, code) {
		if p.Expired(now) {
			a.expirePending(sessionID, now)
			return "", a.fail(sessionID, device, apperrors.CodeExpired())
		}
		token, err := a.issue(sessionID, device)
		if err != nil {
			return "", err
		}
		delete(a.pending, sessionID)
		a.succeed(sessionID, device, "pending")
		return token, nil
	}

	if util.ConstantTimeEqual(a.current.Code, code) {
		if a.current.Expired(now) {
			if err := a.rotate(now); err != nil {
				log.Error().Err(err).Msg("failed to rotate advertised pairing code")
			}
			return "", a.fail(sessionID, device, apperrors.CodeExpired())
		}
		token, err := a.issue(sessionID, device)
		if err != nil {
			return "", err
		}
		delete(a.pending, sessionID)
		// One-time use: the advertised code is replaced immediately and the
		// consumed value is not retained.
		a.current = model.PendingPairing{}
		if err := a.rotate(now); err != nil {
			log.Error().Err(err).Msg("failed to rotate advertised pairing code")
		}
		a.succeed(sessionID, device, "advertised")
		return token, nil
	}

	if forgetAt, ok := a.expired[code]; ok && now.Before(forgetAt) {
		return "", a.fail(sessionID, device, apperrors.CodeExpired())
	}
	return "", a.fail(sessionID, device, apperrors.CodeInvalid())
}

// Confirm lets the operator approve a connection's pending pairing without
// the client typing the code.
func (a *Authority) Confirm(sessionID string, device model.DeviceInfo) (string, error) {
	now := a.now()
	p, ok := a.pending[sessionID]
	if !ok {
		return "", apperrors.NotFound("Pending pairing")
	}
	if p.Expired(now) {
		a.expirePending(sessionID, now)
		return "", apperrors.CodeExpired()
	}

	token, err := a.issue(sessionID, device)
	if err != nil {
		return "", err
	}
	delete(a.pending, sessionID)

	audit.Log(audit.Event{
		Type:       audit.EventPairingConfirm,
		SessionID:  sessionID,
		DeviceName: device.Name,
	})
	return token, nil
}

// Cancel drops the pending code of a connection that went away.
func (a *Authority) Cancel(sessionID string) {
	delete(a.pending, sessionID)
}

// Sweep removes expired pending codes, rotates an expired advertised code and
// forgets expired codes past their retention. It returns the number of codes
// that expired in this pass.
func (a *Authority) Sweep(now time.Time) int {
	expired := 0
	for id, p := range a.pending {
		if p.Expired(now) {
			a.expirePending(id, now)
			expired++
		}
	}

	if a.current.Expired(now) {
		if err := a.rotate(now); err != nil {
			log.Error().Err(err).Msg("failed to rotate advertised pairing code")
		}
		expired++
	}

	for code, forgetAt := range a.expired {
		if !now.Before(forgetAt) {
			delete(a.expired, code)
		}
	}

	return expired
}

func (a *Authority) expirePending(sessionID string, now time.Time) {
	p := a.pending[sessionID]
	delete(a.pending, sessionID)
	a.expired[p.Code] = now.Add(expiredCodeRetention)
}

// rotate retires the advertised code (remembering it as expired when it had
// a value) and generates the next one.
func (a *Authority) rotate(now time.Time) error {
	if a.current.Code != "" {
		a.expired[a.current.Code] = now.Add(expiredCodeRetention)
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	a.current = model.PendingPairing{
		Code:      code,
		ExpiresAt: now.Add(AdvertisedCodeTTL),
	}
	delete(a.expired, code)

	audit.Log(audit.Event{
		Type:    audit.EventCodeRotate,
		Details: map[string]any{"code": util.MaskCode(code)},
	})
	return nil
}

func (a *Authority) issue(sessionID string, device model.DeviceInfo) (string, error) {
	token, err := a.tokens.Issue(sessionID, device)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to issue token")
		return "", apperrors.Internal("Failed to issue token").WithCause(err)
	}
	return token, nil
}

func (a *Authority) succeed(sessionID string, device model.DeviceInfo, via string) {
	audit.Log(audit.Event{
		Type:       audit.EventPairingSuccess,
		SessionID:  sessionID,
		DeviceName: device.Name,
		Details:    map[string]any{"via": via},
	})
}

func (a *Authority) fail(sessionID string, device model.DeviceInfo, err *apperrors.AppError) error {
	audit.Log(audit.Event{
		Type:       audit.EventPairingFailure,
		SessionID:  sessionID,
		DeviceName: device.Name,
		Details:    map[string]any{"reason": string(err.Code)},
	})
	return err
}
