// Package blob opens the agreement archive store for the configured driver.
// Application code depends on this package and the core contract, never on
// the infra drivers directly.
package blob

import (
	"context"
	"fmt"

	fsstore "nexurabuild/internal/infra/blob/fs"
	memstore "nexurabuild/internal/infra/blob/memory"
	s3store "nexurabuild/internal/infra/blob/s3"
)

// DefaultFSRoot is used when the fs driver has no root configured.
const DefaultFSRoot = "./archive"

// S3Config holds bucket coordinates for the s3 driver.
type S3Config = s3store.Config

// Config selects and configures a driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store selected by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFS
	}
	switch driver {
	case DriverFS:
		root := cfg.FSRoot
		if root == "" {
			root = DefaultFSRoot
		}
		return fsstore.New(root)
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	case DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}
