package devices

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Principal identifies an authorized caller. DeviceID is empty for the master
// credential.
type Principal struct {
	Master    bool
	DeviceID  string
	PatientID string
}

type Guard struct {
	masterKey []byte
	repo      *Repository
}

// NewGuard builds a guard; an empty masterKey disables master access.
func NewGuard(masterKey string, repo *Repository) *Guard {
	return &Guard{masterKey: []byte(masterKey), repo: repo}
}

// Authorize accepts the master credential or the credential of an active
// registered device. The credential is compared exactly as supplied. It has
// no side effects.
func (g *Guard) Authorize(ctx context.Context, credential string) (Principal, error) {
	if strings.TrimSpace(credential) == "" {
		return Principal{}, ErrMissingCredential
	}

	if len(g.masterKey) > 0 && subtle.ConstantTimeCompare([]byte(credential), g.masterKey) == 1 {
		return Principal{Master: true}, nil
	}

	if !strings.HasPrefix(credential, KeyPrefix) {
		return Principal{}, ErrInvalidCredential
	}

	device, err := g.repo.DeviceByKeyHash(ctx, HashKey(credential))
	if errors.Is(err, ErrDeviceNotFound) {
		return Principal{}, ErrInvalidCredential
	}
	if err != nil {
		return Principal{}, fmt.Errorf("looking up device credential: %w", err)
	}
	if !device.Active() {
		return Principal{}, ErrInvalidCredential
	}

	return Principal{DeviceID: device.ID, PatientID: device.PatientID}, nil
}
