// Package openapi embeds the OpenAPI description of the HTTP API.
package openapi

import _ "embed"

// NexuraSpec is the OpenAPI 3 document served at /openapi.yaml.
//
//go:embed nexura.yaml
var NexuraSpec []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), NexuraSpec...)
}
