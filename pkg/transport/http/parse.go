// Package http mounts the authorization server core on net/http. It owns
// wire parsing and response rendering only; every protocol decision stays in
// the core.
package http

import (
	"net/http"

	"github.com/porthorian/openidc"
	oerrors "github.com/porthorian/openidc/pkg/errors"
	"github.com/porthorian/openidc/pkg/scope"
)

// ParseTokenRequest decodes a token-endpoint call. Client credentials may
// arrive via HTTP Basic auth or form fields; Basic wins when both appear.
func ParseTokenRequest(r *http.Request) (openidc.TokenRequest, error) {
	if r.Method != http.MethodPost {
		return openidc.TokenRequest{}, oerrors.New(oerrors.CodeInvalidRequest, "token requests must use POST")
	}
	if err := r.ParseForm(); err != nil {
		return openidc.TokenRequest{}, oerrors.Wrap(oerrors.CodeInvalidRequest, "request body is not a valid form", err)
	}

	req := openidc.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		Scopes:       scope.Parse(r.PostFormValue("scope")),
	}

	if clientID, clientSecret, ok := r.BasicAuth(); ok {
		req.ClientID = clientID
		req.ClientSecret = clientSecret
	}

	return req, nil
}

// ParseAuthorizeRequest decodes an authorize-endpoint call. The subject is
// not part of the wire request; the host resolves it from its own session.
func ParseAuthorizeRequest(r *http.Request) (openidc.AuthorizeRequest, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return openidc.AuthorizeRequest{}, oerrors.New(oerrors.CodeInvalidRequest, "authorize requests must use GET or POST")
	}
	if err := r.ParseForm(); err != nil {
		return openidc.AuthorizeRequest{}, oerrors.Wrap(oerrors.CodeInvalidRequest, "request is not a valid form", err)
	}

	return openidc.AuthorizeRequest{
		ResponseType:        r.FormValue("response_type"),
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scopes:              scope.Parse(r.FormValue("scope")),
		State:               r.FormValue("state"),
		Nonce:               r.FormValue("nonce"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}, nil
}
