package dedup

import (
	"bytes"
	"image"
	"strings"

	"github.com/corona10/goimagehash"

	"github.com/teranos/proofchain/errors"
)

// PHashMatchDistance is the largest Hamming distance at which two perceptual
// hashes are taken to show the same picture.
const PHashMatchDistance = 10

const phashBits = 64

// PerceptualHash returns the 64-bit DCT hash of image bytes, rendered "p:<hex>".
func PerceptualHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "decode image")
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", errors.Wrap(err, "perceptual hash")
	}
	return h.ToString(), nil
}

// PerceptualDistance is the Hamming distance between two rendered hashes.
// A bare hex hash is read as a perceptual hash.
func PerceptualDistance(a, b string) (int, error) {
	ha, err := parsePerceptualHash(a)
	if err != nil {
		return 0, err
	}
	hb, err := parsePerceptualHash(b)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb)
}

func parsePerceptualHash(s string) (*goimagehash.ImageHash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, ":") {
		s = "p:" + s
	}
	h, err := goimagehash.ImageHashFromString(s)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "perceptual hash %q", s), errors.ErrInvalidRequest)
	}
	return h, nil
}
