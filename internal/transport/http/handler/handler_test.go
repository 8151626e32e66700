package handler

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mordhub/internal/core/apperr"
	"mordhub/internal/core/auth"
	"mordhub/internal/domain"
	"mordhub/internal/guides"
	"mordhub/internal/transport/http/view"
	"mordhub/web"
)

func init() { gin.SetMode(gin.TestMode) }

type nopStore struct{ Store }

type nopVerifier struct{}

func (nopVerifier) LoginURL() string { return "https://provider.example/login" }
func (nopVerifier) Verify(context.Context, url.Values) (domain.SteamID, error) {
	return 0, errors.New("no")
}

type nopGuides struct{}

func (nopGuides) List() []guides.Guide { return nil }
func (nopGuides) Render(context.Context, string) (guides.Guide, template.HTML, error) {
	return guides.Guide{}, "", apperr.ErrNotFound
}

func newHandler(t *testing.T, debug bool) *Handler {
	t.Helper()
	s, err := auth.NewSessions("an-adequately-long-cookie-secret-value", time.Hour, false)
	require.NoError(t, err)
	views, err := view.New(web.Templates())
	require.NoError(t, err)
	h, err := New(Deps{
		Store:    nopStore{},
		Verifier: nopVerifier{},
		Sessions: s,
		Guides:   nopGuides{},
		Views:    views,
		Assets:   web.Static(),
		Debug:    debug,
	})
	require.NoError(t, err)
	return h
}

func failWith(h *Handler, path string, err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	h.fail(c, err)
	return w
}

func TestFailByKind(t *testing.T) {
	h := newHandler(t, false)

	w := failWith(h, "/loadouts/1", apperr.NotFound("gone"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "<html")

	w = failWith(h, "/loadouts/create", apperr.ErrRedirectToLogin)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login", w.Header().Get("Location"))

	w = failWith(h, "/auth/callback", apperr.Wrap(apperr.KindSteamAuth, "", errors.New("is_valid:false")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication failed", w.Body.String())

	for _, err := range []error{
		apperr.ErrUnauthorized,
		apperr.ErrDatabaseTimeout,
		apperr.ErrNothingReturned,
		apperr.Template(errors.New("bad")),
		context.Canceled,
		errors.New("foreign"),
	} {
		w = failWith(h, "/", err)
		assert.Equal(t, http.StatusInternalServerError, w.Code, err.Error())
		assert.Equal(t, "Internal Server Error", w.Body.String(), err.Error())
	}
}

func TestFailShowsMessagesInDebug(t *testing.T) {
	h := newHandler(t, true)
	w := failWith(h, "/", apperr.Database(errors.New("connection refused")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestFailOnAPIIsJSON(t *testing.T) {
	h := newHandler(t, false)
	w := failWith(h, "/api/loadouts", apperr.NotFound("gone"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":404,"msg":"Not Found","data":{}}`, w.Body.String())
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
