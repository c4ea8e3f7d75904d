// Package qrcode renders join-link QR codes for embedding in the frontend.
package qrcode

import (
	"encoding/base64"
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

// DataURI encodes the content as a QR code PNG and returns it as a base64
// data URI suitable for an <img> src attribute.
func DataURI(content string) (string, error) {
	png, err := qr.Encode(content, qr.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
