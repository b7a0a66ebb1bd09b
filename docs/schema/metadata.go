// Package schema exposes metadata from the embedded API description.
package schema

import (
	"sync"

	"gopkg.in/yaml.v3"

	"nexurabuild/docs/schema/openapi"
)

// Metadata is the info block of the OpenAPI document.
type Metadata struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

type infoDoc struct {
	Info Metadata `yaml:"info"`
}

var (
	metaOnce sync.Once
	meta     Metadata
	metaErr  error
)

// APIMetadata returns the title and version declared by the API description.
func APIMetadata() (Metadata, error) {
	metaOnce.Do(func() {
		var doc infoDoc
		metaErr = yaml.Unmarshal(openapi.NexuraSpec, &doc)
		meta = doc.Info
	})
	return meta, metaErr
}
