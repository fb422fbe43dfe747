// Package domain defines the identifiers, filename contract, sentinel errors
// and validation shared across the image search engine.
package domain

import (
	"regexp"
	"strconv"
)

// ImageExt is the only extension the image collection uses.
const ImageExt = ".jpg"

// ReferenceDimension is the embedding dimension of the reference encoder.
const ReferenceDimension = 512

// ImageID is the stable external identifier of a source image, taken from its
// filename.
type ImageID uint64

var imageNameRegex = regexp.MustCompile(`^[0-9]+\.jpg$`)

// Filename returns the on-disk name of the image, e.g. "42.jpg".
func (id ImageID) Filename() string {
	return strconv.FormatUint(uint64(id), 10) + ImageExt
}

func (id ImageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseImageFilename extracts the id from a name of the form "<digits>.jpg".
// Non-matching names and ids that overflow uint64 return ErrInvalidImageName.
func ParseImageFilename(name string) (ImageID, error) {
	if !imageNameRegex.MatchString(name) {
		return 0, NewValidationError("filename", name, ErrInvalidImageName)
	}
	n, err := strconv.ParseUint(name[:len(name)-len(ImageExt)], 10, 64)
	if err != nil {
		return 0, NewValidationError("filename", name, ErrInvalidImageName)
	}
	return ImageID(n), nil
}
