package rimage

import (
	"bytes"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DecodeImage decodes a JPEG, PNG or GIF frame, applying its EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode image")
	}
	return img, nil
}

// ReadImageFromFile reads the image stored at path.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %s", path)
	}
	return img, nil
}

// WriteImageToFile writes img to path, picking the format from the extension. Files without a
// known extension are written as JPEG.
func WriteImageToFile(path string, img image.Image) error {
	if _, err := imaging.FormatFromFilename(path); err != nil {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(90)); err != nil {
		return errors.Wrapf(err, "cannot write image %s", path)
	}
	return nil
}

// EncodeJPEG encodes img as a JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, errors.Wrap(err, "cannot encode image")
	}
	return buf.Bytes(), nil
}

// ResizeToWidth scales img down to width, keeping its aspect ratio. Images already narrower than
// width, and a width of zero, leave img untouched.
func ResizeToWidth(img image.Image, width int) image.Image {
	if width <= 0 || width >= img.Bounds().Dx() {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}
