// Package openid is an OpenID 2.0 relying party for Steam sign-in.
package openid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"mordhub/internal/core/apperr"
	"mordhub/internal/domain"
)

const (
	// SteamEndpoint is Steam's OpenID provider.
	SteamEndpoint = "https://steamcommunity.com/openid/login"

	ns               = "http://specs.openid.net/auth/2.0"
	identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"
	callbackPath     = "/auth/callback"
	maxResponseBytes = 64 << 10
)

type Kind int

const (
	KindRequest Kind = iota + 1
	KindDeserialize
	KindInvalid
	KindSteamID
	KindDB
	KindDBTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindDeserialize:
		return "deserialize"
	case KindInvalid:
		return "invalid"
	case KindSteamID:
		return "steam id"
	case KindDB:
		return "db"
	case KindDBTimeout:
		return "db timeout"
	}
	return "unknown"
}

// Error is a failed sign-in. Callers must not reveal it to the browser.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "openid: " + e.Kind.String()
	}
	return "openid: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// UserInserter persists a verified identity. Inserting an existing one must
// succeed.
type UserInserter interface {
	InsertUser(ctx context.Context, id domain.SteamID) error
}

type Options struct {
	// Endpoint defaults to SteamEndpoint.
	Endpoint string
	// SiteURL is the public origin, used as realm and to build return_to.
	SiteURL string
	Client  *http.Client
}

type Verifier struct {
	endpoint string
	returnTo string
	realm    string
	client   *http.Client
	users    UserInserter
	log      *zap.Logger
}

func NewVerifier(opts Options, users UserInserter, l *zap.Logger) (*Verifier, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = SteamEndpoint
	}
	if _, err := url.ParseRequestURI(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("openid endpoint: %w", err)
	}
	site := strings.TrimRight(opts.SiteURL, "/")
	if u, err := url.Parse(site); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("openid site url %q is not absolute", opts.SiteURL)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Verifier{
		endpoint: opts.Endpoint,
		returnTo: site + callbackPath,
		realm:    site,
		client:   opts.Client,
		users:    users,
		log:      l.Named("openid"),
	}, nil
}

// LoginURL is where the browser is sent to start signing in.
func (v *Verifier) LoginURL() string {
	q := url.Values{}
	q.Set("openid.ns", ns)
	q.Set("openid.identity", identifierSelect)
	q.Set("openid.claimed_id", identifierSelect)
	q.Set("openid.mode", "checkid_setup")
	q.Set("openid.return_to", v.returnTo)
	q.Set("openid.realm", v.realm)
	return v.endpoint + "?" + q.Encode()
}

// Verify checks the callback parameters directly with the provider,
// extracts the SteamID and registers the user.
func (v *Verifier) Verify(ctx context.Context, params url.Values) (domain.SteamID, error) {
	claimedID := params.Get("openid.claimed_id")
	if claimedID == "" {
		return 0, &Error{Kind: KindDeserialize, Err: errors.New("missing openid.claimed_id")}
	}

	form := url.Values{}
	for k, vs := range params {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("openid.mode", "check_authentication")

	valid, err := v.checkAuthentication(ctx, form)
	if err != nil {
		return 0, err
	}
	if !valid {
		return 0, &Error{Kind: KindInvalid}
	}

	id, err := SteamIDFromClaimedID(claimedID)
	if err != nil {
		return 0, &Error{Kind: KindSteamID, Err: err}
	}

	if err := v.users.InsertUser(ctx, id); err != nil {
		if apperr.KindOf(err) == apperr.KindDatabaseTimedOut {
			return 0, &Error{Kind: KindDBTimeout, Err: err}
		}
		return 0, &Error{Kind: KindDB, Err: err}
	}
	v.log.Debug("verified", zap.Stringer("steam_id", id))
	return id, nil
}

func (v *Verifier) checkAuthentication(ctx context.Context, form url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, &Error{Kind: KindRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := v.client.Do(req)
	if err != nil {
		return false, &Error{Kind: KindRequest, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return false, &Error{Kind: KindRequest, Err: err}
	}
	if !utf8.Valid(body) {
		return false, &Error{Kind: KindDeserialize, Err: errors.New("response is not utf-8")}
	}
	if res.StatusCode != http.StatusOK {
		v.log.Warn("check_authentication status", zap.Int("status", res.StatusCode))
	}
	return IsValidResponse(string(body)), nil
}

// IsValidResponse reports whether a key-value form body contains
// is_valid:true.
func IsValidResponse(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		k, val, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if ok && k == "is_valid" && val == "true" {
			return true
		}
	}
	return false
}

// SteamIDFromClaimedID parses the id from the last path segment of a
// claimed identifier such as https://steamcommunity.com/openid/id/7656119...
func SteamIDFromClaimedID(claimedID string) (domain.SteamID, error) {
	i := strings.LastIndexByte(claimedID, '/')
	if i < 0 || i == len(claimedID)-1 {
		return 0, fmt.Errorf("claimed id %q has no id segment", claimedID)
	}
	return domain.ParseSteamID(claimedID[i+1:])
}
