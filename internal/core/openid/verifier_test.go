package openid

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mordhub/internal/core/apperr"
	"mordhub/internal/domain"
)

type fakeUsers struct {
	mu       sync.Mutex
	inserted []domain.SteamID
	err      error
}

func (f *fakeUsers) InsertUser(ctx context.Context, id domain.SteamID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, id)
	return nil
}

type provider struct {
	body string

	mu       sync.Mutex
	lastForm url.Values
	calls    int
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.calls++
	p.lastForm = r.PostForm
	p.mu.Unlock()
	_, _ = io.WriteString(w, p.body)
}

func (p *provider) form() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

func callbackParams(claimedID string) url.Values {
	return url.Values{
		"openid.ns":             {ns},
		"openid.mode":           {"id_res"},
		"openid.op_endpoint":    {SteamEndpoint},
		"openid.claimed_id":     {claimedID},
		"openid.identity":       {claimedID},
		"openid.return_to":      {"http://localhost:3000/auth/callback"},
		"openid.response_nonce": {"2024-01-01T00:00:00Zabc"},
		"openid.assoc_handle":   {"1234567890"},
		"openid.signed":         {"signed,op_endpoint,claimed_id,identity,return_to,response_nonce,assoc_handle"},
		"openid.sig":            {"c2lnbmF0dXJl"},
	}
}

func newVerifier(t *testing.T, endpoint string, users UserInserter) *Verifier {
	t.Helper()
	v, err := NewVerifier(Options{Endpoint: endpoint, SiteURL: "http://localhost:3000/"}, users, nil)
	require.NoError(t, err)
	return v
}

func kindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return 0
}

func TestLoginURL(t *testing.T) {
	v := newVerifier(t, "", &fakeUsers{})
	u, err := url.Parse(v.LoginURL())
	require.NoError(t, err)
	assert.Equal(t, "steamcommunity.com", u.Host)
	q := u.Query()
	assert.Equal(t, ns, q.Get("openid.ns"))
	assert.Equal(t, identifierSelect, q.Get("openid.identity"))
	assert.Equal(t, identifierSelect, q.Get("openid.claimed_id"))
	assert.Equal(t, "checkid_setup", q.Get("openid.mode"))
	assert.Equal(t, "http://localhost:3000/auth/callback", q.Get("openid.return_to"))
	assert.Equal(t, "http://localhost:3000", q.Get("openid.realm"))
}

func TestVerifyValid(t *testing.T) {
	p := &provider{body: "ns:http://specs.openid.net/auth/2.0\nis_valid:true\n"}
	srv := httptest.NewServer(p)
	defer srv.Close()
	users := &fakeUsers{}
	v := newVerifier(t, srv.URL, users)

	id, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/76561197960287930"))
	require.NoError(t, err)
	assert.Equal(t, domain.SteamID(76561197960287930), id)
	assert.Equal(t, []domain.SteamID{76561197960287930}, users.inserted)

	assert.Equal(t, "check_authentication", p.form().Get("openid.mode"))
	assert.Equal(t, "c2lnbmF0dXJl", p.form().Get("openid.sig"))
	assert.Equal(t, "1234567890", p.form().Get("openid.assoc_handle"))
}

func TestVerifyAcceptsCRLFBody(t *testing.T) {
	srv := httptest.NewServer(&provider{body: "ns:http://specs.openid.net/auth/2.0\r\nis_valid:true\r\n"})
	defer srv.Close()
	v := newVerifier(t, srv.URL, &fakeUsers{})

	_, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.NoError(t, err)
}

func TestVerifyInvalid(t *testing.T) {
	srv := httptest.NewServer(&provider{body: "ns:http://specs.openid.net/auth/2.0\nis_valid:false\n"})
	defer srv.Close()
	users := &fakeUsers{}
	v := newVerifier(t, srv.URL, users)

	_, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.Equal(t, KindInvalid, kindOf(err))
	assert.Empty(t, users.inserted)
}

func TestVerifyBadSteamID(t *testing.T) {
	srv := httptest.NewServer(&provider{body: "is_valid:true\n"})
	defer srv.Close()
	users := &fakeUsers{}
	v := newVerifier(t, srv.URL, users)

	_, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/notanumber"))
	assert.Equal(t, KindSteamID, kindOf(err))
	assert.Empty(t, users.inserted)
}

func TestVerifyMissingClaimedIDNeverCallsProvider(t *testing.T) {
	p := &provider{body: "is_valid:true\n"}
	srv := httptest.NewServer(p)
	defer srv.Close()
	v := newVerifier(t, srv.URL, &fakeUsers{})

	_, err := v.Verify(context.Background(), url.Values{"openid.mode": {"id_res"}})
	assert.Equal(t, KindDeserialize, kindOf(err))
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Zero(t, p.calls)
}

func TestVerifyNonUTF8Body(t *testing.T) {
	srv := httptest.NewServer(&provider{body: "is_valid:\xff\xfe"})
	defer srv.Close()
	v := newVerifier(t, srv.URL, &fakeUsers{})

	_, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.Equal(t, KindDeserialize, kindOf(err))
}

func TestVerifyProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(&provider{})
	endpoint := srv.URL
	srv.Close()
	v := newVerifier(t, endpoint, &fakeUsers{})

	_, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.Equal(t, KindRequest, kindOf(err))
}

func TestVerifyCanceled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	users := &fakeUsers{}
	v := newVerifier(t, srv.URL, users)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := v.Verify(ctx, callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.Equal(t, KindRequest, kindOf(err))
	assert.Empty(t, users.inserted)
}

func TestVerifyDatabaseFailures(t *testing.T) {
	srv := httptest.NewServer(&provider{body: "is_valid:true\n"})
	defer srv.Close()

	v := newVerifier(t, srv.URL, &fakeUsers{err: apperr.Database(errors.New("boom"))})
	_, err := v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.Equal(t, KindDB, kindOf(err))

	v = newVerifier(t, srv.URL, &fakeUsers{err: apperr.ErrDatabaseTimeout})
	_, err = v.Verify(context.Background(), callbackParams("https://steamcommunity.com/openid/id/1"))
	assert.Equal(t, KindDBTimeout, kindOf(err))
}

func TestIsValidResponse(t *testing.T) {
	assert.True(t, IsValidResponse("is_valid:true"))
	assert.True(t, IsValidResponse("ns:http://specs.openid.net/auth/2.0\nis_valid:true\n"))
	assert.False(t, IsValidResponse("is_valid:false"))
	assert.False(t, IsValidResponse("is_valid:TRUE"))
	assert.False(t, IsValidResponse(""))
	assert.False(t, IsValidResponse("is_valid"))
}

func TestSteamIDFromClaimedID(t *testing.T) {
	id, err := SteamIDFromClaimedID("https://steamcommunity.com/openid/id/76561198000000001")
	require.NoError(t, err)
	assert.Equal(t, domain.SteamID(76561198000000001), id)

	for _, bad := range []string{"", "no-slash", "https://steamcommunity.com/openid/id/", "https://x/id/-1", "https://x/id/18446744073709551616"} {
		_, err := SteamIDFromClaimedID(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewVerifierRejectsRelativeSite(t *testing.T) {
	_, err := NewVerifier(Options{SiteURL: "localhost:3000"}, &fakeUsers{}, nil)
	assert.Error(t, err)
	_, err = NewVerifier(Options{SiteURL: ""}, &fakeUsers{}, nil)
	assert.Error(t, err)
}
