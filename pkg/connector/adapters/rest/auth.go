package rest

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
	"github.com/ajitpratap0/orbit/pkg/secrets"
)

// authenticator decorates requests per auth kind. The oauth2 client is only
// built when credentials for it exist.
type authenticator struct {
	kind   models.AuthKind
	creds  secrets.Credentials
	plain  *http.Client
	oauth2 *http.Client
}

func newAuthenticator(ctx context.Context, kind models.AuthKind, creds secrets.Credentials, plain *http.Client) (*authenticator, error) {
	a := &authenticator{kind: kind, creds: creds, plain: plain}
	switch kind {
	case "", models.AuthNone:
		a.kind = models.AuthNone
	case models.AuthBearer:
		if creds.Get("token") == "" {
			return nil, errors.New(errors.ErrorTypeInvalidRequest, "bearer auth requires a token credential")
		}
	case models.AuthBasic:
		if creds.Get("username") == "" {
			return nil, errors.New(errors.ErrorTypeInvalidRequest, "basic auth requires a username credential")
		}
	case models.AuthOAuth2:
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported auth kind %q", kind)
	}

	if creds.Get("client_id") != "" && creds.Get("token_url") != "" {
		cc := clientcredentials.Config{
			ClientID:     creds.Get("client_id"),
			ClientSecret: creds.Get("client_secret"),
			TokenURL:     creds.Get("token_url"),
			Scopes:       splitScopes(creds.Get("scopes")),
		}
		// The token source outlives the factory call, so it must not inherit its cancellation.
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, plain)
		a.oauth2 = cc.Client(tokenCtx)
	} else if kind == models.AuthOAuth2 {
		return nil, errors.New(errors.ErrorTypeInvalidRequest, "oauth2 auth requires client_id and token_url credentials")
	}
	return a, nil
}

// client prepares req for the given auth kind (empty means the connector default)
func (a *authenticator) client(req *http.Request, kind models.AuthKind) (*http.Client, error) {
	if kind == "" {
		kind = a.kind
	}
	switch kind {
	case models.AuthNone:
		return a.plain, nil
	case models.AuthBearer:
		token := a.creds.Get("token")
		if token == "" {
			return nil, errors.New(errors.ErrorTypeInvalidRequest, "bearer auth requires a token credential")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return a.plain, nil
	case models.AuthBasic:
		req.SetBasicAuth(a.creds.Get("username"), a.creds.Get("password"))
		return a.plain, nil
	case models.AuthOAuth2:
		if a.oauth2 == nil {
			return nil, errors.New(errors.ErrorTypeInvalidRequest, "oauth2 auth requires client_id and token_url credentials")
		}
		return a.oauth2, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInvalidRequest, "unsupported auth kind %q", kind)
}

func (a *authenticator) closeIdle() {
	a.plain.CloseIdleConnections()
}

func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}

// classifyTransport maps client.Do failures. Token endpoint refusals are
// permanent, everything else on the wire is transient.
func classifyTransport(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil && retrieve.Response.StatusCode < 500 {
		return errors.Wrap(err, errors.ErrorTypeConnectorRejected, "oauth2 token request rejected")
	}
	return errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "request failed")
}
