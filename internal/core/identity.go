package core

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IdentityClaim is the set of identifiers a device may present.
// Resolution tries them in strict precedence order: numeric id, stable
// device identifier, normalized MAC, hostname.
type IdentityClaim struct {
	ID        uint   `json:"kioskId"`
	DeviceUID string `json:"deviceId"`
	MAC       string `json:"mac"`
	Hostname  string `json:"hostname"`
}

// isSentinel rejects placeholder identifiers some provisioning images
// report before they have a real one.
func isSentinel(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "null", "unknown":
		return true
	}
	return false
}

// Empty reports whether the claim carries no usable identifier.
func (c IdentityClaim) Empty() bool {
	return c.ID == 0 && isSentinel(c.DeviceUID) && isSentinel(c.MAC) && isSentinel(c.Hostname)
}

// ResolveDevice maps a claim to exactly one device. It is
// side-effect-free; a claim with no usable identifier fails with
// ErrMissingIdentity, an unmatched one with ErrDeviceNotFound.
func ResolveDevice(ctx context.Context, repo Repository, claim IdentityClaim) (*Device, error) {
	if claim.Empty() {
		return nil, ErrMissingIdentity
	}

	if claim.ID != 0 {
		device, err := repo.GetDevice(ctx, claim.ID)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if !isSentinel(claim.DeviceUID) {
		device, err := repo.GetDeviceByUID(ctx, strings.TrimSpace(claim.DeviceUID))
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if !isSentinel(claim.MAC) {
		device, err := repo.GetDeviceByMAC(ctx, claim.MAC)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if !isSentinel(claim.Hostname) {
		device, err := repo.GetDeviceByHostname(ctx, strings.TrimSpace(claim.Hostname))
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, ErrDeviceNotFound
}
