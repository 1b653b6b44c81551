package morph

import (
	"context"

	"github.com/jo-hoe/morphportal/internal/transforms"
)

// Transformer turns a staged image into the image stored in the gallery.
type Transformer interface {
	// Transform returns the result image for in. An error aborts the flight
	// without producing a gallery record.
	Transform(ctx context.Context, in transforms.ImageRef) (transforms.ImageRef, error)
}
