package otp

import qrcode "github.com/skip2/go-qrcode"

// QRCodePNG renders a provisioning URI as a scannable PNG image of the
// given edge size in pixels.
func QRCodePNG(uri string, size int) ([]byte, error) {
	return qrcode.Encode(uri, qrcode.Medium, size)
}
