package syncer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/marksync/marksync/internal/models"
)

// clientName tags every uploaded package with the producing client.
const clientName = "marksync"

// LoadOrCreateDevice returns the persisted device identity, generating
// and persisting a new one on first run. A device record that no longer
// decodes is replaced rather than surfaced: losing the identity only
// changes attribution on future uploads.
func LoadOrCreateDevice(meta MetadataStore, name string, logger *slog.Logger) (models.DeviceInfo, error) {
	d, err := meta.Device()
	if err != nil {
		logger.Warn("device record unreadable, regenerating", slog.String("error", err.Error()))
	}

	if d != nil {
		return *d, nil
	}

	id, err := newDeviceID()
	if err != nil {
		return models.DeviceInfo{}, err
	}

	now := models.NowMilli()

	created := models.DeviceInfo{
		ID:           id,
		Name:         name,
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		Client:       clientName,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := meta.SetDevice(created); err != nil {
		return models.DeviceInfo{}, fmt.Errorf("persisting device identity: %w", err)
	}

	logger.Info("created device identity",
		slog.String("deviceId", created.ID),
		slog.String("name", created.Name),
	)

	return created, nil
}

// TouchDevice refreshes the device's LastActiveAt and persists it.
func TouchDevice(meta MetadataStore, d *models.DeviceInfo) error {
	d.LastActiveAt = models.NowMilli()

	return meta.SetDevice(*d)
}

func newDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating device id: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
