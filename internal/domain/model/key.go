package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// KeySeparator joins the key components into the routing string.
	KeySeparator = "#"
	// KeyPlaceholder stands in for an absent key component.
	KeyPlaceholder = "NA"
)

// ConnectionKey is the composite identity that addresses exactly one live connection.
//
// [ADDRESSING]
// The rendered string is the only lookup key used by the Hub and the only partition
// key used on the durable queue. There is no secondary index.
type ConnectionKey struct {
	UserID     string
	BusinessID string
	DeviceID   string
}

// NewConnectionKey builds a key from optional components. Nil or empty components
// render as [KeyPlaceholder], so construction never fails.
func NewConnectionKey(userID, businessID, deviceID *string) ConnectionKey {
	return ConnectionKey{
		UserID:     deref(userID),
		BusinessID: deref(businessID),
		DeviceID:   deref(deviceID),
	}
}

// String renders the key as user#business#device.
func (k ConnectionKey) String() string {
	var b strings.Builder
	b.Grow(len(k.UserID) + len(k.BusinessID) + len(k.DeviceID) + 2*len(KeySeparator))

	b.WriteString(orPlaceholder(k.UserID))
	b.WriteString(KeySeparator)
	b.WriteString(orPlaceholder(k.BusinessID))
	b.WriteString(KeySeparator)
	b.WriteString(orPlaceholder(k.DeviceID))

	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orPlaceholder(s string) string {
	if s == "" {
		return KeyPlaceholder
	}
	return s
}

// ParseConnectionKey validates the upgrade parameters: user and business ids must be
// well-formed UUIDs, the device id is free-form but required. Ids are normalized to
// their canonical form so both inbound paths render identical keys.
func ParseConnectionKey(userID, businessID, deviceID string) (ConnectionKey, error) {
	uid, err := ParseIdentityToken(userID)
	if err != nil {
		return ConnectionKey{}, fmt.Errorf("user_id: %w", err)
	}
	bid, err := ParseIdentityToken(businessID)
	if err != nil {
		return ConnectionKey{}, fmt.Errorf("business_id: %w", err)
	}
	if strings.TrimSpace(deviceID) == "" {
		return ConnectionKey{}, fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	return ConnectionKey{UserID: uid, BusinessID: bid, DeviceID: deviceID}, nil
}

// ParseIdentityToken returns the canonical rendering of a UUID identity token.
func ParseIdentityToken(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return id.String(), nil
}
