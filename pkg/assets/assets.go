// Package assets is the core's view of the external asset-upload
// collaborator: something that trades an object key for a pair of
// time-limited URLs. Upload mechanics, MIME filtering, and dimension probing
// all live on the other side of that interface.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"roomsync/pkg/record"
)

// Ticket is the result of an exchange: where to put the bytes, and the
// retrieval URL that becomes the asset record's src.
type Ticket struct {
	UploadURL string `json:"uploadUrl"`
	AssetURL  string `json:"assetUrl"`
}

// Exchanger produces a ticket for an object key.
type Exchanger interface {
	Exchange(ctx context.Context, objectKey string) (Ticket, error)
}

// HTTPExchanger talks to the asset endpoint over HTTP: a POST of the object
// key returns the ticket JSON.
type HTTPExchanger struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExchanger returns an exchanger against the given endpoint. A nil
// client uses http.DefaultClient.
func NewHTTPExchanger(endpoint string, client *http.Client) *HTTPExchanger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExchanger{endpoint: endpoint, client: client}
}

func (e *HTTPExchanger) Exchange(ctx context.Context, objectKey string) (Ticket, error) {
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return Ticket{}, fmt.Errorf("bad assets endpoint: %w", err)
	}
	u = u.JoinPath(url.PathEscape(objectKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return Ticket{}, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return Ticket{}, fmt.Errorf("asset exchange failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Ticket{}, fmt.Errorf("asset exchange failed: unexpected status code: %d", resp.StatusCode)
	}
	var t Ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Ticket{}, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return t, nil
}

// NewAssetRecord builds the asset record for an uploaded object: the ticket's
// retrieval URL plus the size-and-type tuple reported by the uploader.
func NewAssetRecord(id, name string, t Ticket, size int64, mimeType string) record.Record {
	return record.Record{
		ID:   id,
		Type: "asset",
		Props: map[string]any{
			"src":      t.AssetURL,
			"name":     name,
			"mimeType": mimeType,
			"size":     size,
		},
	}
}
