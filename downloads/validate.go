package downloads

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"
)

// placeholderSize is the dimension of the degenerate stand-in texture the
// transport substitutes for an image it could not decode. An asset of
// exactly this size is not a real icon.
const placeholderSize = 8

// errPlaceholder marks a downloaded asset that is the degenerate stand-in
// rather than a real icon.
var errPlaceholder = errors.New("placeholder image")

// validateAsset reports whether data is a well-formed image asset. The
// fixed-size placeholder is rejected the same way a malformed payload is.
func validateAsset(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("undecodable image: %w", err)
	}
	if cfg.Width == placeholderSize && cfg.Height == placeholderSize {
		return errPlaceholder
	}
	return nil
}
