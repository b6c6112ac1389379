package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/proofchain/errors"
)

func TestCheck(t *testing.T) {
	c := NewSaferClient(Options{})

	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://gateway.pinata.cloud/ipfs/bafy", false},
		{"http://example.com/a.png", false},
		{"ftp://example.com/a.png", true},
		{"file:///etc/passwd", true},
		{"http://localhost:8080/", true},
		{"http://media.localhost/", true},
		{"http://127.0.0.1/", true},
		{"http://10.1.2.3/", true},
		{"http://192.168.0.10/", true},
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://[::1]/", true},
		{"http://[fd00::1]/", true},
		{"http://[::ffff:127.0.0.1]/", true},
		{"http://gateway.example@127.0.0.1/", true},
		{"http:///nohost", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := c.Check(tt.url)
			if tt.blocked {
				assert.ErrorIs(t, err, ErrBlocked)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheck_AllowPrivate(t *testing.T) {
	c := NewSaferClient(Options{AllowPrivate: true})

	_, err := c.Check("http://127.0.0.1:8080/ipfs/x")
	assert.NoError(t, err)

	// Scheme and userinfo rules still apply
	_, err = c.Check("gopher://127.0.0.1/")
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = c.Check("http://a@127.0.0.1/")
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestIsBlockedAddr(t *testing.T) {
	blocked := []string{"127.0.0.1", "10.0.0.1", "172.16.5.4", "192.168.1.1", "169.254.1.1",
		"0.0.0.0", "100.64.0.1", "224.0.0.1", "255.255.255.255", "::1", "fe80::1", "fc00::1", "2001:db8::1", "::"}
	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111", "104.16.0.1"}

	for _, s := range blocked {
		assert.True(t, IsBlockedAddr(netip.MustParseAddr(s)), s)
	}
	for _, s := range public {
		assert.False(t, IsBlockedAddr(netip.MustParseAddr(s)), s)
	}
}

func TestDo_BlocksLoopbackServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = NewSaferClient(Options{}).Do(req)
	assert.True(t, errors.Is(err, ErrBlocked))

	resp, err := NewSaferClient(Options{AllowPrivate: true}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedirectLimit(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/again", http.StatusFound)
	}))
	defer server.Close()

	c := NewSaferClient(Options{AllowPrivate: true, MaxRedirects: 2})
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
