package auth_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const shellLogin = "https://os.ventogroup.co/login"

var _ = Describe("Handler", func() {
	var (
		identity *fakeIdentity
		built    int
		handler  *auth.Handler
	)

	BeforeEach(func() {
		identity = &fakeIdentity{}
		built = 0
		base := transport.NewBaseHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
		handler = auth.NewHandler(base, factoryFor(identity, &built), auth.HandlerConfig{
			CookiePrefix:  "sb-",
			ShellLoginURL: shellLogin,
		})
	})

	Describe("Login", func() {
		It("hands off to the shell with an absolute returnTo", func() {
			r := httptest.NewRequest(http.MethodGet, "/login?returnTo=%2Fstaff%3Ftab%3D1", nil)
			r.Host = "viso.ventogroup.co"
			rec := httptest.NewRecorder()
			handler.Login(rec, r)

			Expect(rec.Code).To(Equal(http.StatusTemporaryRedirect))
			loc, err := url.Parse(rec.Header().Get("Location"))
			Expect(err).NotTo(HaveOccurred())
			Expect(loc.Scheme + "://" + loc.Host + loc.Path).To(Equal(shellLogin))
			Expect(loc.Query().Get("returnTo")).To(Equal("https://viso.ventogroup.co/staff?tab=1"))
		})

		It("prefers forwarded host and protocol", func() {
			r := httptest.NewRequest(http.MethodGet, "/login?returnTo=/", nil)
			r.Header.Set("X-Forwarded-Host", "viso.internal")
			r.Header.Set("X-Forwarded-Proto", "http")
			Expect(auth.BuildShellLoginURL(shellLogin, "/", r)).To(Equal(shellLogin + "?returnTo=http%3A%2F%2Fviso.internal%2F"))
		})

		It("keeps absolute returnTo values and defaults junk to root", func() {
			r := httptest.NewRequest(http.MethodGet, "/login", nil)
			r.Host = "viso.ventogroup.co"
			Expect(auth.BuildShellLoginURL(shellLogin, "https://viso.ventogroup.co/x", r)).
				To(Equal(shellLogin + "?returnTo=https%3A%2F%2Fviso.ventogroup.co%2Fx"))
			Expect(auth.BuildShellLoginURL(shellLogin, "javascript:alert(1)", r)).
				To(Equal(shellLogin + "?returnTo=https%3A%2F%2Fviso.ventogroup.co%2F"))
		})
	})

	Describe("Logout", func() {
		It("signs out and clears session cookies", func() {
			r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
			r.AddCookie(&http.Cookie{Name: "sb-ref-auth-token", Value: "x"})
			r.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
			rec := httptest.NewRecorder()
			handler.Logout(rec, r)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(identity.signOuts).To(Equal(1))
			Expect(rec.Header().Values("Set-Cookie")).To(ConsistOf(
				And(HavePrefix("sb-ref-auth-token="), ContainSubstring("Max-Age=0")),
			))

			var body auth.LogoutResponse
			Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
			Expect(body.Redirect).To(HavePrefix(shellLogin + "?returnTo="))
		})

		It("still clears cookies when the provider fails", func() {
			identity.signOutErr = errors.New("timeout")
			r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
			r.AddCookie(&http.Cookie{Name: "sb-ref-auth-token", Value: "x"})
			rec := httptest.NewRecorder()
			handler.Logout(rec, r)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Values("Set-Cookie")).To(HaveLen(1))
		})
	})

	Describe("NoAccess", func() {
		It("echoes the reason and only relative returnTo paths", func() {
			r := httptest.NewRequest(http.MethodGet,
				"/no-access?returnTo=%2F%2Fevil.test&reason=no_permission&permission=viso.staff.edit", nil)
			rec := httptest.NewRecorder()
			handler.NoAccess(rec, r)

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			var body auth.NoAccessResponse
			Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
			Expect(body.Reason).To(Equal("no_permission"))
			Expect(body.Permission).To(Equal("viso.staff.edit"))
			Expect(body.ReturnTo).To(BeEmpty())
		})
	})
})
