package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	ago := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	tests := []struct {
		name   string
		device Device
		want   string
	}{
		{
			name:   "fresh online device stays online",
			device: Device{Status: StatusOnline, LastSync: ago(5 * time.Minute)},
			want:   StatusOnline,
		},
		{
			name:   "device past offline timeout is offline",
			device: Device{Status: StatusOnline, LastSync: ago(DefaultOfflineTimeout + time.Second)},
			want:   StatusOffline,
		},
		{
			name:   "lastSeen is the fallback reference",
			device: Device{Status: StatusOnline, LastSeen: ago(DefaultOfflineTimeout + time.Second)},
			want:   StatusOffline,
		},
		{
			name:   "lastSync takes precedence over lastSeen",
			device: Device{Status: StatusOnline, LastSync: ago(time.Minute), LastSeen: ago(2 * time.Hour)},
			want:   StatusOnline,
		},
		{
			name:   "no contact timestamps means never timed out",
			device: Device{Status: StatusPending},
			want:   StatusPending,
		},
		{
			name:   "warning decays to offline when stale",
			device: Device{Status: StatusWarning, LastSeen: ago(time.Hour)},
			want:   StatusOffline,
		},
		{
			name:   "error is sticky even when fresh",
			device: Device{Status: StatusError, LastSync: ago(time.Minute)},
			want:   StatusError,
		},
		{
			name:   "error is sticky even when stale",
			device: Device{Status: StatusError, LastSync: ago(3 * time.Hour)},
			want:   StatusError,
		},
		{
			name:   "recent upgrade stays upgrading",
			device: Device{Status: StatusUpgrading, UpgradeStartedAt: ago(10 * time.Minute), LastSync: ago(2 * time.Hour)},
			want:   StatusUpgrading,
		},
		{
			name:   "upgrade past timeout becomes error",
			device: Device{Status: StatusUpgrading, UpgradeStartedAt: ago(DefaultUpgradeTimeout + time.Second)},
			want:   StatusError,
		},
		{
			name:   "upgrading without start timestamp stays upgrading",
			device: Device{Status: StatusUpgrading},
			want:   StatusUpgrading,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveStatus(&tt.device, now, DefaultOfflineTimeout, DefaultUpgradeTimeout)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveStatusIsReadOnly(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	device := Device{Status: StatusOnline, LastSync: &stale}

	got := EffectiveStatus(&device, time.Now(), DefaultOfflineTimeout, DefaultUpgradeTimeout)

	assert.Equal(t, StatusOffline, got)
	assert.Equal(t, StatusOnline, device.Status, "persisted status must not change")
}

func TestHealthStatusToDevice(t *testing.T) {
	assert.Equal(t, StatusOnline, HealthStatusToDevice(HealthHealthy))
	assert.Equal(t, StatusWarning, HealthStatusToDevice(HealthWarning))
	assert.Equal(t, StatusOffline, HealthStatusToDevice(HealthCritical))
	assert.Equal(t, StatusPending, HealthStatusToDevice("garbage"))
	assert.Equal(t, StatusPending, HealthStatusToDevice(HealthUnknown))
}
