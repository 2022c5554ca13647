//go:build nocv

package main

import (
	"errors"

	"github.com/cjeanneret/SnapGo/internal/config"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// Built with -tags nocv: OpenCV is not linked, only the mock driver works.
func newGocvCamera(cfg *config.Config) (camera.Camera, error) {
	return nil, errors.New("gocv driver not available: binary built with the nocv tag")
}
