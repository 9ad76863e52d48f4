package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageToJpgBuffer Convert and image to a jpg buffer to write to output
func ImageToJpgBuffer(img image.Image, options *jpeg.Options) ([]byte, error) {
	buf := new(bytes.Buffer)

	err := jpeg.Encode(buf, img, options)
	if err != nil {
		return nil, errors.New("jpeg encode error")
	}
	return buf.Bytes(), nil
}

// ImageToPngBuffer Convert and image to a png buffer to write to output
func ImageToPngBuffer(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)

	err := png.Encode(buf, img)
	if err != nil {
		return nil, errors.New("png encode error")
	}
	return buf.Bytes(), nil
}

// EncodeImage Encode as "jpeg"/"jpg" or "png"
func EncodeImage(img image.Image, format string, quality int) ([]byte, error) {
	switch format {
	case "jpeg", "jpg":
		return ImageToJpgBuffer(img, &jpeg.Options{Quality: quality})
	case "png":
		return ImageToPngBuffer(img)
	}
	return nil, fmt.Errorf("unsupported image format %q", format)
}

// DecodeImageFile Decode any of the registered raster formats (png, jpeg, gif, bmp, tiff, webp)
func DecodeImageFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, format, nil
}
