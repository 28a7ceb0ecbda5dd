package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/porthorian/openidc"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/scope"
)

const (
	PathAuthorize = "/oauth2/authorize"
	PathToken     = "/oauth2/token"
	PathIntrosp   = "/oauth2/introspect"
	PathMetadata  = "/.well-known/openid-configuration"
	PathJWKS      = "/.well-known/jwks.json"
)

var ErrMissingServer = errors.New("transport: server is required")

// SubjectResolver extracts the authenticated resource owner from a request,
// typically from the host application's session. Returning an empty subject
// without an error means nobody is signed in.
type SubjectResolver func(r *http.Request) (string, error)

type HandlerConfig struct {
	Server  *openidc.Server
	Subject SubjectResolver

	// BaseURL prefixes the endpoint paths in the discovery document.
	// Defaults to the issuer identifier.
	BaseURL string

	Logger logr.Logger
}

// Handler is the net/http face of the authorization server.
type Handler struct {
	server  *openidc.Server
	subject SubjectResolver
	baseURL string
	logger  logr.Logger
}

func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Server == nil {
		return nil, ErrMissingServer
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(config.Server.Metadata().Issuer, "/")
	}

	return &Handler{
		server:  config.Server,
		subject: config.Subject,
		baseURL: baseURL,
		logger:  config.Logger,
	}, nil
}

// Mount registers every endpoint on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorize, h.Authorize)
	mux.HandleFunc(PathToken, h.Token)
	mux.HandleFunc(PathIntrosp, h.Introspect)
	mux.HandleFunc(PathMetadata, h.Metadata)
	mux.HandleFunc(PathJWKS, h.JWKS)
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	req, err := ParseTokenRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := h.server.HandleTokenRequest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	req, err := ParseAuthorizeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.subject != nil {
		subject, err := h.subject(r)
		if err != nil {
			writeError(w, oerrors.Wrap(oerrors.CodeServerError, "failed to resolve resource owner", err))
			return
		}
		req.Subject = subject
	}

	outcome, err := h.server.HandleAuthorizeRequest(r.Context(), req)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}

	redirect, err := outcome.Redirect()
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// writeAuthorizeError redirects protocol errors back to the client when the
// redirect URI itself validated, and renders them directly when it did not
// (RFC 6749 §4.1.2.1 forbids redirecting to an unverified URI). The direct
// branch covers every code the core can raise before redirect validation:
// unknown response type, unknown client, and unregistered redirect URI.
func (h *Handler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, req openidc.AuthorizeRequest, err error) {
	switch oerrors.CodeOf(err) {
	case oerrors.CodeInvalidRequest, oerrors.CodeInvalidClient, oerrors.CodeUnsupportedResponseType, oerrors.CodeServerError:
		writeError(w, err)
		return
	}

	target, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		writeError(w, err)
		return
	}

	query := target.Query()
	query.Set("error", string(oerrors.CodeOf(err)))
	query.Set("error_description", err.Error())
	if req.State != "" {
		query.Set("state", req.State)
	}
	target.RawQuery = query.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, oerrors.New(oerrors.CodeInvalidRequest, "introspection requests must use POST"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, oerrors.Wrap(oerrors.CodeInvalidRequest, "request body is not a valid form", err))
		return
	}

	raw := r.PostFormValue("token")
	if raw == "" {
		writeError(w, oerrors.New(oerrors.CodeInvalidRequest, "token is required"))
		return
	}

	result, err := h.server.Introspect(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{"active": result.Active}
	if result.Active {
		body["sub"] = result.Subject
		body["client_id"] = result.ClientID
		body["aud"] = result.Audience
		body["scope"] = scope.Join(result.Scope)
		body["iat"] = result.IssuedAt.Unix()
		body["exp"] = result.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	metadata := h.server.Metadata()

	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                metadata.Issuer,
		"authorization_endpoint":                h.baseURL + PathAuthorize,
		"token_endpoint":                        h.baseURL + PathToken,
		"introspection_endpoint":                h.baseURL + PathIntrosp,
		"jwks_uri":                              h.baseURL + PathJWKS,
		"grant_types_supported":                 metadata.GrantTypesSupported,
		"response_types_supported":              metadata.ResponseTypesSupported,
		"id_token_signing_alg_values_supported": metadata.IDTokenSigningAlgValuesSupported,
	})
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.server.JWKS())
}
