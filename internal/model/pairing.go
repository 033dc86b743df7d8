package model

import "time"

// PendingPairing is a pairing code waiting to be exchanged for a token.
// SessionID is empty for the advertised code.
type PendingPairing struct {
	SessionID string    `json:"sessionId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p PendingPairing) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PairingOffer is what a client receives after asking to pair.
type PairingOffer struct {
	PairingCode string `json:"pairingCode"`
	QRCode      string `json:"qrCode"`
	ExpiresIn   int    `json:"expiresIn"`
}

// QRPayload is serialized into PairingOffer.QRCode.
type QRPayload struct {
	Code        string `json:"code"`
	ServiceName string `json:"serviceName"`
	SessionID   string `json:"sessionId"`
}
