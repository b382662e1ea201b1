package media

import "encoding/base64"

// Payload is the encoded upload derived from a staged file.
type Payload struct {
	// Data is the base64-encoded image.
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// DataURL renders the payload as a data: URI.
func (p Payload) DataURL() string {
	return "data:" + p.MimeType + ";base64," + p.Data
}

// Bytes decodes the payload.
func (p Payload) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// NewPayload encodes raw image bytes.
func NewPayload(data []byte, mimeType string) Payload {
	return Payload{Data: base64.StdEncoding.EncodeToString(data), MimeType: mimeType}
}
