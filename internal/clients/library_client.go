// internal/clients/library_client.go
package clients

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"shelfkeeper/internal/address"
	"shelfkeeper/internal/identity"
	"shelfkeeper/internal/library"
)

const tokenTTL = time.Minute

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LibraryInfo is a library together with the address it is stored at.
type LibraryInfo struct {
	Address address.Address `json:"address"`
	library.Library
}

// APIError is a non-2xx response. It unwraps to the matching library error
// when the status identifies one.
type APIError struct {
	StatusCode int
	Message    string
	err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// LibraryClient talks to the library API as the holder of key.
type LibraryClient struct {
	baseURL    string
	key        ed25519.PrivateKey
	httpClient *http.Client
}

func NewLibraryClient(baseURL string, key ed25519.PrivateKey) *LibraryClient {
	return &LibraryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the default HTTP client.
func (c *LibraryClient) WithHTTPClient(hc *http.Client) *LibraryClient {
	c.httpClient = hc
	return c
}

// Identity is the caller identity the client signs requests with.
func (c *LibraryClient) Identity() identity.Identity {
	return identity.Of(c.key)
}

func (c *LibraryClient) CreateLibrary(ctx context.Context, name string) (*LibraryInfo, error) {
	var info LibraryInfo
	body := struct {
		Name string `json:"name"`
	}{name}
	if err := c.do(ctx, http.MethodPost, "/libraries", body, http.StatusCreated, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *LibraryClient) GetLibrary(ctx context.Context, owner identity.Identity) (*LibraryInfo, error) {
	var info LibraryInfo
	if err := c.do(ctx, http.MethodGet, libraryPath(owner, ""), nil, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *LibraryClient) AddBook(ctx context.Context, owner identity.Identity, name string, pages uint16) error {
	body := struct {
		Name  string `json:"name"`
		Pages uint16 `json:"pages"`
	}{name, pages}
	return c.do(ctx, http.MethodPost, libraryPath(owner, "/books"), body, http.StatusCreated, nil)
}

func (c *LibraryClient) RemoveBook(ctx context.Context, owner identity.Identity, name string) error {
	path := libraryPath(owner, "/books") + "?" + url.Values{"name": {name}}.Encode()
	return c.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil)
}

func (c *LibraryClient) ListBooks(ctx context.Context, owner identity.Identity) ([]library.Book, error) {
	var books []library.Book
	if err := c.do(ctx, http.MethodGet, libraryPath(owner, "/books"), nil, http.StatusOK, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *LibraryClient) ToggleAvailability(ctx context.Context, owner identity.Identity, name string) (bool, error) {
	body := struct {
		Name string `json:"name"`
	}{name}
	var resp struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodPost, libraryPath(owner, "/books/toggle"), body, http.StatusOK, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}

func (c *LibraryClient) History(ctx context.Context, owner identity.Identity) ([]library.Event, error) {
	var events []library.Event
	if err := c.do(ctx, http.MethodGet, libraryPath(owner, "/events"), nil, http.StatusOK, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func libraryPath(owner identity.Identity, suffix string) string {
	return "/libraries/" + owner.String() + suffix
}

func (c *LibraryClient) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := identity.IssueToken(c.key, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newAPIError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, msg string) *APIError {
	apiErr := &APIError{StatusCode: status, Message: msg}
	switch status {
	case http.StatusForbidden:
		apiErr.err = library.ErrNotOwner
	case http.StatusNotFound:
		apiErr.err = library.ErrLibraryNotFound
		if strings.Contains(msg, library.ErrBookNotFound.Error()) {
			apiErr.err = library.ErrBookNotFound
		}
	case http.StatusConflict:
		apiErr.err = library.ErrLibraryExists
		if strings.Contains(msg, library.ErrCapacityExceeded.Error()) {
			apiErr.err = library.ErrCapacityExceeded
		}
	case http.StatusUnprocessableEntity:
		apiErr.err = library.ErrNameTooLong
	case http.StatusTooManyRequests:
		apiErr.err = library.ErrRateLimited
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
