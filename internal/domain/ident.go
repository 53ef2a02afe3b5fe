package domain

import "encoding/base64"

// Identifiers from the document backend contain reserved characters ("/",
// ":") and travel as URL path segments in callback URLs, so they are carried
// in an opaque reversible encoding.

func EncodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func DecodeID(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
