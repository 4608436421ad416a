package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Generator renders ticket codes as scannable PNG images. The image carries
// the plain code; the code is unguessable and is the ticket's credential.
type Generator struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = defaultSize
	}
	return &Generator{Size: size, Level: qrcode.Medium}
}

func (g *Generator) PNG(code string) ([]byte, error) {
	if code == "" {
		return nil, errors.New("qr: empty ticket code")
	}
	return qrcode.Encode(code, g.Level, g.Size)
}
