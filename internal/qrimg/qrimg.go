// Package qrimg renders session payloads as QR images. Pure functions, no
// state.
package qrimg

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// PNG encodes the payload as a QR PNG of size x size pixels.
func PNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = defaultSize
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// DataURL returns the QR PNG as a data URL suitable for an <img> src.
func DataURL(payload string, size int) (string, error) {
	png, err := PNG(payload, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
