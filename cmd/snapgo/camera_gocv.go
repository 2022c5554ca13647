//go:build !nocv

package main

import (
	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/hw/camera/cvcam"
)

func newGocvCamera(cfg *config.Config) (camera.Camera, error) {
	return cvcam.New(cameraDevices(cfg), cfg.Camera.WidthPx, cfg.Camera.HeightPx, cfg.WarmupTimeout()), nil
}
