package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"roomsync/pkg/record"
)

func TestExchange(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/photo.png", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"uploadUrl":"https://bucket/put/photo.png?sig=1","assetUrl":"https://cdn/photo.png?sig=2"}`))
	}))
	t.Cleanup(ts.Close)

	e := NewHTTPExchanger(ts.URL, nil)
	ticket, err := e.Exchange(context.Background(), "photo.png")
	require.NoError(t, err)
	require.Equal(t, "https://bucket/put/photo.png?sig=1", ticket.UploadURL)
	require.Equal(t, "https://cdn/photo.png?sig=2", ticket.AssetURL)
}

func TestExchangeBadStatus(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(ts.Close)

	_, err := NewHTTPExchanger(ts.URL, nil).Exchange(context.Background(), "photo.png")
	require.Error(t, err)
}

func TestNewAssetRecordIsSchemaValid(t *testing.T) {
	t.Parallel()

	ticket := Ticket{AssetURL: "https://cdn/photo.png"}
	r := NewAssetRecord("asset:1", "photo.png", ticket, 2048, "image/png")
	require.NoError(t, record.Validate(r))
	require.Equal(t, "https://cdn/photo.png", r.Props["src"])
	require.Equal(t, "image/png", r.Props["mimeType"])
}
