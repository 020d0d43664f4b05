package qrimg

import (
	"bytes"
	"strings"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestPNG(t *testing.T) {
	img, err := PNG("eyJzaWQiOiJhYmMifQ", 128)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Fatal("output is not a PNG")
	}
}

func TestPNGDefaultSize(t *testing.T) {
	img, err := PNG("payload", 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(img) == 0 {
		t.Fatal("empty image")
	}
}

func TestDataURL(t *testing.T) {
	url, err := DataURL("payload", 64)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatal("missing data URL prefix")
	}
}
