package sidetools

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clawdbot/gateway/internal/ssrfguard"
)

// fakePublicResolver reports a fixed public address for any hostname,
// so tests can exercise the "resolves to a public address" path without
// depending on real DNS.
type fakePublicResolver struct{}

func (fakePublicResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: netip.MustParseAddr("93.184.216.34").AsSlice()}}, nil
}

// browserAgainst returns a Browser whose client dials srv regardless of
// the request's hostname, so tests can address an httptest server via a
// hostname that isn't itself a loopback literal.
func browserAgainst(srv *httptest.Server) *Browser {
	b := NewBrowser()
	b.Resolver = fakePublicResolver{}
	b.Client = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.Dial(network, srv.Listener.Addr().String())
			},
		},
	}
	return b
}

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from server"))
	}))
	defer srv.Close()

	b := browserAgainst(srv)
	out, err := b.RunSideTool(context.Background(), "browser.fetch", map[string]any{"url": "http://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "hello from server", out)
}

func TestFetchRejectsPrivateHost(t *testing.T) {
	b := NewBrowser()
	_, err := b.RunSideTool(context.Background(), "browser.fetch", map[string]any{"url": "http://127.0.0.1:9/whatever"})
	require.ErrorIs(t, err, ssrfguard.ErrPrivateHost)
}

func TestFetchRejectsMissingURL(t *testing.T) {
	b := NewBrowser()
	_, err := b.RunSideTool(context.Background(), "browser.fetch", map[string]any{})
	require.Error(t, err)
}

func TestFetchUnknownToolErrors(t *testing.T) {
	b := NewBrowser()
	_, err := b.RunSideTool(context.Background(), "memory.get", nil)
	require.Error(t, err)
}

func TestFetchTruncatesBodyAtMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	b := browserAgainst(srv)
	b.MaxBytes = 10
	out, err := b.RunSideTool(context.Background(), "browser.fetch", map[string]any{"url": "http://example.com/"})
	require.NoError(t, err)
	require.Len(t, out, 10)
}

func TestFetchPropagatesUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := browserAgainst(srv)
	_, err := b.RunSideTool(context.Background(), "browser.fetch", map[string]any{"url": "http://example.com/"})
	require.Error(t, err)
}
