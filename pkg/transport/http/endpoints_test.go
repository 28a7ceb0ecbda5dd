package http

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/porthorian/openidc"
	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	"github.com/porthorian/openidc/pkg/storage"
	"github.com/porthorian/openidc/pkg/storage/memory"
)

const (
	testSecret   = "s3cret-value-for-tests"
	testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk4a"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate test key: %v", err)
		}
		testKey = key
	})
	material, err := ocrypto.NewKeyMaterialFromKey(testKey, "transport-test-secret")
	if err != nil {
		t.Fatalf("build key material: %v", err)
	}

	adapter := memory.NewAdapter()
	hasher := ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options())
	secretHash, err := hasher.Hash(testSecret)
	if err != nil {
		t.Fatalf("hash client secret: %v", err)
	}

	adapter.SeedClient(storage.ClientRecord{
		ID:           "c1",
		Confidential: true,
		SecretHash:   secretHash,
		RedirectURIs: []string{"https://app/cb"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		Scopes:       []string{"openid", "profile"},
	})
	for _, id := range []string{"openid", "profile"} {
		adapter.SeedScope(storage.ScopeRecord{ID: id})
	}
	adapter.SeedUser(storage.UserRecord{ID: "u1"})

	server, err := openidc.New(openidc.Config{
		Issuer:  "https://idp.example.com",
		Clients: storage.ClientMaterial{Client: adapter, Scope: adapter, User: adapter},
		Tokens:  storage.TokenMaterial{Code: adapter, Access: adapter, Refresh: adapter},
		Keys:    material,
		Hasher:  hasher,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	handler, err := NewHandler(HandlerConfig{
		Server: server,
		Subject: func(r *http.Request) (string, error) {
			return r.Header.Get("X-Test-Subject"), nil
		},
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	newTestHandler(t).Mount(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func s256Challenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

func authorizeCode(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {"c1"},
		"redirect_uri":          {"https://app/cb"},
		"scope":                 {"openid profile"},
		"state":                 {"xyz"},
		"code_challenge":        {s256Challenge(testVerifier)},
		"code_challenge_method": {"S256"},
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+PathAuthorize+"?"+params.Encode(), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Test-Subject", "u1")

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("authorize request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if location.Query().Get("state") != "xyz" {
		t.Fatalf("state must round-trip, got %q", location.Query().Get("state"))
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatalf("expected a code in %q", resp.Header.Get("Location"))
	}
	return code
}

func TestTokenEndpointCodeFlow(t *testing.T) {
	ts := newTestServer(t)
	code := authorizeCode(t, ts)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"code_verifier": {testVerifier},
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+PathToken, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("c1", testSecret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("token responses must not be cacheable, got %q", cc)
	}

	var body openidc.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AccessToken == "" || body.RefreshToken == "" || body.IDToken == "" {
		t.Fatalf("incomplete token response: %+v", body)
	}
	if body.TokenType != "Bearer" {
		t.Fatalf("expected Bearer, got %q", body.TokenType)
	}
}

func TestTokenEndpointStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	post := func(form url.Values, basicSecret string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.URL+PathToken, strings.NewReader(form.Encode()))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if basicSecret != "" {
			req.SetBasicAuth("c1", basicSecret)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("token request: %v", err)
		}
		return resp
	}

	t.Run("bad client secret is 401", func(t *testing.T) {
		resp := post(url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {"whatever"},
			"redirect_uri": {"https://app/cb"},
		}, "wrong")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Fatal("401 must carry WWW-Authenticate")
		}
	})

	t.Run("unsupported grant type is 400", func(t *testing.T) {
		resp := post(url.Values{"grant_type": {"password"}}, testSecret)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Error != "unsupported_grant_type" {
			t.Fatalf("unexpected error code %q", body.Error)
		}
	})
}

func TestAuthorizeEndpointRedirectsProtocolErrors(t *testing.T) {
	ts := newTestServer(t)

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {"c1"},
		"redirect_uri":  {"https://app/cb"},
		"scope":         {"openid unknown-scope"},
		"state":         {"xyz"},
	}
	req, err := http.NewRequest(http.MethodGet, ts.URL+PathAuthorize+"?"+params.Encode(), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Test-Subject", "u1")

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("authorize request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("scope errors must redirect, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if location.Query().Get("error") != "invalid_scope" {
		t.Fatalf("expected invalid_scope in redirect, got %q", location.Query().Get("error"))
	}
	if location.Query().Get("state") != "xyz" {
		t.Fatal("state must round-trip on error redirects")
	}
}

func TestAuthorizeEndpointDoesNotRedirectBadRedirects(t *testing.T) {
	ts := newTestServer(t)

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {"c1"},
		"redirect_uri":  {"https://evil/cb"},
	}
	req, err := http.NewRequest(http.MethodGet, ts.URL+PathAuthorize+"?"+params.Encode(), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Test-Subject", "u1")

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("authorize request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unregistered redirects must render 400, got %d", resp.StatusCode)
	}
}

func TestAuthorizeEndpointDoesNotRedirectUnknownResponseTypes(t *testing.T) {
	ts := newTestServer(t)

	// Response-type dispatch runs before client and redirect validation, so
	// this failure must never travel to the unvetted redirect_uri.
	params := url.Values{
		"response_type": {"id_token"},
		"client_id":     {"nobody"},
		"redirect_uri":  {"https://evil/phish"},
		"state":         {"xyz"},
	}
	req, err := http.NewRequest(http.MethodGet, ts.URL+PathAuthorize+"?"+params.Encode(), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Test-Subject", "u1")

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("authorize request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown response types must render 400, got %d", resp.StatusCode)
	}
	if location := resp.Header.Get("Location"); location != "" {
		t.Fatalf("unknown response types must not redirect, got %q", location)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "unsupported_response_type" {
		t.Fatalf("unexpected error code %q", body.Error)
	}
}

func TestDiscoveryAndJWKS(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + PathMetadata)
	if err != nil {
		t.Fatalf("metadata request: %v", err)
	}
	defer resp.Body.Close()

	var metadata map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if metadata["issuer"] != "https://idp.example.com" {
		t.Fatalf("unexpected issuer %v", metadata["issuer"])
	}
	if metadata["token_endpoint"] != "https://idp.example.com"+PathToken {
		t.Fatalf("unexpected token endpoint %v", metadata["token_endpoint"])
	}

	keysResp, err := http.Get(ts.URL + PathJWKS)
	if err != nil {
		t.Fatalf("jwks request: %v", err)
	}
	defer keysResp.Body.Close()

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.NewDecoder(keysResp.Body).Decode(&jwks); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(jwks.Keys) != 1 || jwks.Keys[0]["kty"] != "RSA" {
		t.Fatalf("unexpected jwks %+v", jwks)
	}
}

func TestIntrospectionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	code := authorizeCode(t, ts)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"code_verifier": {testVerifier},
		"client_id":     {"c1"},
		"client_secret": {testSecret},
	}
	resp, err := http.PostForm(ts.URL+PathToken, form)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()

	var tokens openidc.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}

	check := func(raw string, wantActive bool) {
		t.Helper()
		resp, err := http.PostForm(ts.URL+PathIntrosp, url.Values{"token": {raw}})
		if err != nil {
			t.Fatalf("introspect request: %v", err)
		}
		defer resp.Body.Close()

		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["active"] != wantActive {
			t.Fatalf("expected active=%v, got %v", wantActive, body)
		}
	}

	check(tokens.AccessToken, true)
	check("not-a-token", false)
}
