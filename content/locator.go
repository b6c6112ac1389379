// Package content resolves content locators to bytes.
//
// A locator is either an IPFS CID (bare or ipfs://) served through a
// gateway, or an absolute http(s) URL. Locators are supplied by registrants
// and are fetched through the SSRF-guarded client.
package content

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/keys"
)

var (
	// ErrNotAvailable indicates the locator could not be fetched
	ErrNotAvailable = errors.New("content not available")

	// ErrInvalidLocator indicates a locator that is neither a CID nor an http(s) URL
	ErrInvalidLocator = errors.New("invalid content locator")
)

// Kind distinguishes locator forms.
type Kind int

const (
	KindCID Kind = iota
	KindURL
)

// Locator is a parsed content locator.
type Locator struct {
	Raw  string
	Kind Kind
	CID  cid.Cid
	URL  *url.URL
}

// ParseLocator accepts a bare CID, an ipfs:// URI or an http(s) URL.
func ParseLocator(raw string) (Locator, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Locator{}, errors.Mark(errors.Wrap(ErrInvalidLocator, "empty locator"), errors.ErrInvalidRequest)
	}

	if rest, ok := strings.CutPrefix(s, "ipfs://"); ok {
		s = strings.TrimPrefix(rest, "ipfs/")
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
	}

	if c, err := cid.Decode(s); err == nil {
		return Locator{Raw: raw, Kind: KindCID, CID: c}, nil
	}

	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Locator{}, errors.Mark(errors.Wrapf(ErrInvalidLocator, "%q", raw), errors.ErrInvalidRequest)
	}
	return Locator{Raw: raw, Kind: KindURL, URL: u}, nil
}

// FetchURL returns the URL bytes are fetched from. CIDs go through gateway,
// which may be a bare host or a full base URL.
func (l Locator) FetchURL(gateway string) string {
	if l.Kind == KindURL {
		return l.URL.String()
	}
	return GatewayBase(gateway) + "/ipfs/" + l.CID.String()
}

// GatewayBase normalizes a gateway setting into a base URL without trailing slash.
func GatewayBase(gateway string) string {
	g := strings.TrimRight(strings.TrimSpace(gateway), "/")
	if g == "" {
		g = "gateway.pinata.cloud"
	}
	if strings.HasPrefix(g, "http://") || strings.HasPrefix(g, "https://") {
		return g
	}
	return "https://" + g
}

// DigestMatches reports whether a raw-leaf sha2-256 CID commits to digest.
// known is false for CIDs whose hash covers an encoded DAG rather than the file
// bytes (and for URLs), where no claim can be made.
func (l Locator) DigestMatches(digest keys.Digest) (match, known bool) {
	if l.Kind != KindCID || l.CID.Type() != cid.Raw {
		return false, false
	}
	decoded, err := multihash.Decode(l.CID.Hash())
	if err != nil || decoded.Code != multihash.SHA2_256 {
		return false, false
	}
	return bytes.Equal(decoded.Digest, digest[:]), true
}
