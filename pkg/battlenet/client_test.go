package battlenet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, region, faction string, handler http.HandlerFunc) *Client {
	t.Helper()
	var calls int32
	tokenSrv := newTokenServer(t, &calls, `{"access_token":"tok","token_type":"bearer"}`, http.StatusOK)
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	tokens := NewTokenManager("client", "secret", tokenSrv.URL)
	return NewClient(ClientConfig{Region: region, Faction: faction, BaseURL: api.URL}, tokens, nil)
}

func TestAuctionURLs(t *testing.T) {
	c := NewClient(ClientConfig{Region: "NA", BaseURL: "https://x"}, nil, nil)
	assert.Equal(t, []string{"https://x/data/wow/connected-realm/3678/auctions?namespace=dynamic-us&locale=en_US"}, c.AuctionURLs(3678))
	assert.Equal(t, []string{"https://x/data/wow/auctions/commodities?namespace=dynamic-us&locale=en_US"}, c.AuctionURLs(-1))

	eu := NewClient(ClientConfig{Region: "EUCLASSIC", Faction: "all", BaseURL: "https://x"}, nil, nil)
	urls := eu.AuctionURLs(4440)
	require.Len(t, urls, 3)
	assert.Equal(t, "https://x/data/wow/connected-realm/4440/auctions/2?namespace=dynamic-classic-eu&locale=en_US", urls[0])
	assert.True(t, strings.Contains(urls[1], "/auctions/6?"))
	assert.True(t, strings.Contains(urls[2], "/auctions/7?"))

	sod := NewClient(ClientConfig{Region: "NASODCLASSIC", Faction: "horde", BaseURL: "https://x"}, nil, nil)
	urls = sod.AuctionURLs(5813)
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0], "/auctions/6?namespace=dynamic-classic1x-us")
}

func TestFetchSource_MergesClassicFactions(t *testing.T) {
	var hits int32
	c := newTestClient(t, "NACLASSIC", "all", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Last-Modified", "Mon, 19 Oct 2026 12:07:31 GMT")
		_, _ = w.Write([]byte(`{"auctions":[{"id":1,"item":{"id":19019},"buyout":450000000,"quantity":1}]}`))
	})

	res, err := c.FetchSource(context.Background(), 4408)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Len(t, res.Auctions, 3)
	assert.Equal(t, "Mon, 19 Oct 2026 12:07:31 GMT", res.LastModified)
}

func TestFetchSource_RateLimitedIsFetchError(t *testing.T) {
	var hits int32
	c := newTestClient(t, "NA", "", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchSource(context.Background(), 3678)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	assert.Equal(t, int64(3678), fe.SourceID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "no inline retry")
}

func TestFetchTokenPrice(t *testing.T) {
	c := newTestClient(t, "NA", "", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/data/wow/token/index"))
		_, _ = w.Write([]byte(`{"last_updated_timestamp":1760875651000,"price":2865430000}`))
	})

	price, err := c.FetchTokenPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(286543), price)
}
