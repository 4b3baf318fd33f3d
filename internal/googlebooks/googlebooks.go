// Package googlebooks is a thin client for the Google Books volumes API,
// used by cmd/importbooks to seed the catalog. It only maps API volumes
// onto catalog records; availability accounting is untouched by imports
// beyond initializing available_copies to total_copies.
package googlebooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openshelf/library-api/internal/data"
)

// DefaultBaseURL is the production volumes endpoint.
const DefaultBaseURL = "https://www.googleapis.com/books/v1/volumes"

// Client queries the Google Books API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a Client with a 10-second request timeout.
func New(apiKey string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Volume mirrors the subset of the API response we care about.
type Volume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Authors             []string `json:"authors"`
		Description         string   `json:"description"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
	} `json:"volumeInfo"`
}

type searchResponse struct {
	Items []Volume `json:"items"`
}

// Search queries the API for volumes matching query, returning at most
// maxResults items.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Volume, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	if c.APIKey != "" {
		params.Set("key", c.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google books api returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// Book maps a volume onto a catalog record with the given copy count.
// ISBN_13 identifiers are preferred over ISBN_10; volumes with no ISBN at
// all fall back to a synthetic identifier derived from the volume id, so
// the unique index on isbn still holds.
func (v Volume) Book(copies int) *data.Book {
	info := v.VolumeInfo

	title := info.Title
	if title == "" {
		title = "Unknown Title"
	}

	author := "Unknown Author"
	if len(info.Authors) > 0 {
		author = strings.Join(info.Authors, ", ")
	}

	return &data.Book{
		Title:           title,
		Author:          author,
		ISBN:            v.isbn(),
		Description:     info.Description,
		GoogleBookID:    v.ID,
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
}

func (v Volume) isbn() string {
	var isbn10 string
	for _, ident := range v.VolumeInfo.IndustryIdentifiers {
		switch ident.Type {
		case "ISBN_13":
			return ident.Identifier
		case "ISBN_10":
			isbn10 = ident.Identifier
		}
	}
	if isbn10 != "" {
		return isbn10
	}
	// Synthetic fallback, truncated to fit the isbn column.
	id := "GB" + v.ID
	if len(id) > 13 {
		id = id[:13]
	}
	return id
}
