//go:build !(linux && (arm || arm64))

package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"pidisplay.dev/config"
)

func Open(cfg *config.Config, log logrus.FieldLogger) (*Platform, error) {
	return nil, errors.New("no framebuffer DMA on this platform; run with -sim")
}
