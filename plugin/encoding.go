package plugin

import "encoding/base64"

// Encode returns the text form of a module's bytes as embedded in generated
// code. It is standard padded base64, which both Buffer.from(s, 'base64')
// and atob accept.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
