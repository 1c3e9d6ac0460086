package pairingqr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 512

var ErrEmptyToken = errors.New("pairing token is empty")

// PNG turns a pairing token into a PNG image. Providers either hand back a
// ready image as a data URI or the raw pairing code; the code is encoded as a
// QR symbol.
func PNG(token string, size int) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if size <= 0 {
		size = defaultSize
	}

	if strings.HasPrefix(token, "data:image/") {
		return decodeDataURI(token)
	}

	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode pairing qr: %w", err)
	}
	return png, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	idx := strings.Index(uri, ";base64,")
	if idx < 0 {
		return nil, fmt.Errorf("pairing token is a data URI without base64 payload")
	}
	raw, err := base64.StdEncoding.DecodeString(uri[idx+len(";base64,"):])
	if err != nil {
		return nil, fmt.Errorf("decode pairing image: %w", err)
	}
	return raw, nil
}
