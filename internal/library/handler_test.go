package library

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"filippo.io/edwards25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfkeeper/internal/address"
	"shelfkeeper/internal/identity"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
	key    ed25519.PrivateKey
	id     identity.Identity
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	resolver := address.Namespace(DefaultNamespace)
	svc := NewService(NewMemoryStore(), WithResolver(resolver))
	server := httptest.NewServer(NewHandler(svc, resolver).Routes())
	t.Cleanup(server.Close)
	return server
}

func newAPIClient(t *testing.T, server *httptest.Server) *apiClient {
	t.Helper()
	key, id, err := identity.GenerateKey()
	require.NoError(t, err)
	return &apiClient{t: t, server: server, key: key, id: id}
}

func (c *apiClient) do(method, path string, body string) (*http.Response, string) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	token, err := identity.IssueToken(c.key, time.Minute)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(c.t, err)
	return resp, buf.String()
}

func TestHandlerRequiresToken(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/libraries", "application/json", strings.NewReader(`{"name":"Home"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/libraries", strings.NewReader(`{"name":"Home"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerHealthCheck(t *testing.T) {
	resolver := address.Namespace(DefaultNamespace)
	storeDown := errors.New("store unreachable")
	var down atomic.Bool
	h := NewHandler(NewService(NewMemoryStore()), resolver).WithHealthCheck(func(context.Context) error {
		if down.Load() {
			return storeDown
		}
		return nil
	})
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down.Store(true)
	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), storeDown.Error())
}

func TestHandlerRejectsForgeableIdentity(t *testing.T) {
	server := newTestServer(t)

	// Subject is the curve's identity point; R = B, S = 1 verifies for it.
	var weak identity.Identity
	weak[0] = 1
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA","typ":"JWT"}`))
	claims := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":%q,"exp":%d}`, weak, time.Now().Add(time.Minute).Unix())))
	sig := make([]byte, ed25519.SignatureSize)
	copy(sig, edwards25519.NewGeneratorPoint().Bytes())
	sig[32] = 1
	require.True(t, ed25519.Verify(weak.PublicKey(), []byte(header+"."+claims), sig))

	req, err := http.NewRequest(http.MethodPost, server.URL+"/libraries", strings.NewReader(`{"name":"Stolen"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+header+"."+claims+"."+base64.RawURLEncoding.EncodeToString(sig))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerLibraryLifecycle(t *testing.T) {
	server := newTestServer(t)
	owner := newAPIClient(t, server)
	base := "/libraries/" + owner.id.String()

	resp, body := owner.do(http.MethodPost, "/libraries", `{"name":"Home"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	wantAddr := address.Namespace(DefaultNamespace).Resolve(owner.id)
	assert.JSONEq(t, fmt.Sprintf(`{"address":%q,"owner":%q,"name":"Home","books":[]}`, wantAddr, owner.id), body)

	resp, body = owner.do(http.MethodPost, "/libraries", `{"name":"Again"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	resp, body = owner.do(http.MethodPost, base+"/books", `{"name":"Dune","pages":412}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.JSONEq(t, `{"name":"Dune","pages":412,"available":true}`, body)

	resp, body = owner.do(http.MethodPost, base+"/books/toggle", `{"name":"Dune"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"name":"Dune","available":false}`, body)

	resp, body = owner.do(http.MethodGet, base+"/books", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `[{"name":"Dune","pages":412,"available":false}]`, body)

	resp, body = owner.do(http.MethodDelete, base+"/books?name=Dune", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, body)

	resp, body = owner.do(http.MethodDelete, base+"/books?name=Dune", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, body)

	resp, body = owner.do(http.MethodDelete, base+"/books", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	resp, body = owner.do(http.MethodGet, base+"/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var events []Event
	require.NoError(t, json.Unmarshal([]byte(body), &events))
	require.Len(t, events, 4)
	assert.Equal(t, EventBookRemoved, events[3].Type)
	assert.Equal(t, 4, events[3].Version)
}

func TestHandlerStatusCodes(t *testing.T) {
	server := newTestServer(t)
	owner := newAPIClient(t, server)
	intruder := newAPIClient(t, server)
	base := "/libraries/" + owner.id.String()

	resp, body := owner.do(http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, body)

	resp, body = owner.do(http.MethodPost, "/libraries", `{"name":"`+strings.Repeat("x", MaxNameLen+1)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)

	resp, body = owner.do(http.MethodPost, "/libraries", `{"name":"Home"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = intruder.do(http.MethodPost, base+"/books", `{"name":"Dune","pages":1}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, body)
	assert.Contains(t, body, ErrNotOwner.Error())

	resp, body = intruder.do(http.MethodGet, base+"/books", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, body)

	for i := 0; i < MaxBooks; i++ {
		resp, body = owner.do(http.MethodPost, base+"/books", fmt.Sprintf(`{"name":"b%d","pages":1}`, i))
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	}
	resp, body = owner.do(http.MethodPost, base+"/books", `{"name":"overflow","pages":1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)
	assert.Contains(t, body, ErrCapacityExceeded.Error())

	resp, body = owner.do(http.MethodPost, base+"/books/toggle", `{"name":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, body)

	resp, body = owner.do(http.MethodPost, base+"/books", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	resp, body = owner.do(http.MethodGet, "/libraries/zz/books", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ErrNotOwner:         http.StatusForbidden,
		ErrBookNotFound:     http.StatusNotFound,
		ErrLibraryNotFound:  http.StatusNotFound,
		ErrLibraryExists:    http.StatusConflict,
		ErrCapacityExceeded: http.StatusConflict,
		ErrNameTooLong:      http.StatusUnprocessableEntity,
		ErrRateLimited:      http.StatusTooManyRequests,
		io.ErrUnexpectedEOF: http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
	assert.Equal(t, http.StatusConflict, StatusFor(fmt.Errorf("create library: %w", ErrLibraryExists)))
}
