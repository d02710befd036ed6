// Package device decides whether a client may skip OTP on password login.
//
// A device is identified by an opaque id the client keeps in a persistent
// cookie or header. The id is minted here on first trust and stored verbatim
// on the user record.
package device

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"fintrack/cmd/identity"
)

const (
	// DefaultLabel names a device when the client supplies none.
	DefaultLabel = "Trusted device"

	maxIDLen    = 128
	maxLabelLen = 64
)

// ErrInvalidDeviceID is returned for a presented id that cannot be stored.
var ErrInvalidDeviceID = errors.New("device: invalid device id")

// Store is the subset of identity.Store the gate needs.
type Store interface {
	AddTrustedDevice(ctx context.Context, userID string, d identity.TrustedDevice) error
	HasTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error)
	ListTrustedDevices(ctx context.Context, userID string) ([]identity.TrustedDevice, error)
	RemoveTrustedDevice(ctx context.Context, userID, deviceID string) error
}

// Gate answers trust lookups and records new trusted devices.
type Gate struct {
	store Store
}

// NewGate returns a Gate over store.
func NewGate(store Store) *Gate { return &Gate{store: store} }

// IsTrusted reports whether deviceID is in userID's trusted list.
// An empty or malformed id is never trusted and costs no store round-trip.
func (g *Gate) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || !ValidID(deviceID) {
		return false, nil
	}
	return g.store.HasTrustedDevice(ctx, userID, deviceID)
}

// Trust appends a device to userID's list and returns the stored entry.
// When deviceID is empty a new random id is minted; re-trusting an existing
// id refreshes its label and timestamp.
func (g *Gate) Trust(ctx context.Context, userID, deviceID, label string, now time.Time) (identity.TrustedDevice, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	} else if !ValidID(deviceID) {
		return identity.TrustedDevice{}, ErrInvalidDeviceID
	}

	d := identity.TrustedDevice{
		DeviceID: deviceID,
		Label:    cleanLabel(label),
		AddedAt:  now.UTC(),
	}
	if err := g.store.AddTrustedDevice(ctx, userID, d); err != nil {
		return identity.TrustedDevice{}, err
	}
	return d, nil
}

// Revoke removes one device. identity.ErrNotFound if it is not in the list.
func (g *Gate) Revoke(ctx context.Context, userID, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || !ValidID(deviceID) {
		return identity.NotFoundError{Op: "device.Revoke", Resource: "device"}
	}
	return g.store.RemoveTrustedDevice(ctx, userID, deviceID)
}

// List returns userID's trusted devices, oldest first.
func (g *Gate) List(ctx context.Context, userID string) ([]identity.TrustedDevice, error) {
	return g.store.ListTrustedDevices(ctx, userID)
}

// ValidID reports whether id can be stored as a device id.
func ValidID(id string) bool {
	if len(id) > maxIDLen {
		return false
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || r == ' ' {
			return false
		}
	}
	return true
}

func cleanLabel(label string) string {
	label = strings.Join(strings.FieldsFunc(label, unicode.IsControl), " ")
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultLabel
	}
	if utf8.RuneCountInString(label) > maxLabelLen {
		label = string([]rune(label)[:maxLabelLen])
	}
	return label
}
