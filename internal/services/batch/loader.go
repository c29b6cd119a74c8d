package batch

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"streetcount/internal/model"
)

// Loader reads and decodes one batch item.
type Loader interface {
	Load(ctx context.Context, path string) (model.Image, error)
}

// FileLoader decodes images from the local filesystem. Every failure is
// returned as a *model.DecodeError.
type FileLoader struct{}

func (FileLoader) Load(ctx context.Context, path string) (model.Image, error) {
	if err := ctx.Err(); err != nil {
		return model.Image{}, &model.DecodeError{Path: path, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return model.Image{}, &model.DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return model.Image{}, &model.DecodeError{Path: path, Err: err}
	}
	return model.Image{Path: path, Pixels: img}, nil
}
