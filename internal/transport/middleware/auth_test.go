package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/transport/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RouteMatcher", func() {
	m := middleware.NewRouteMatcher([]string{"_next", "/static/", "login", "favicon.ico", "api", " "})

	DescribeTable("matching",
		func(path string, matched bool) {
			Expect(m.Matches(path)).To(Equal(matched))
		},
		Entry("root", "/", true),
		Entry("page", "/dashboard", true),
		Entry("next assets", "/_next/chunk.js", false),
		Entry("static", "/static/app.css", false),
		Entry("login", "/login", false),
		Entry("prefix match without separator", "/loginx", false),
		Entry("api", "/api/role-override", false),
		Entry("favicon", "/favicon.ico", false),
		Entry("nested non excluded", "/sites/api", true),
	)
})

var _ = Describe("EdgeGate", func() {
	const prefix = "sb-"

	var (
		identity *stubIdentity
		built    int
		provErr  error
		reached  bool
		gate     *middleware.EdgeGate
		debug    bool
	)

	factory := func(jar *auth.CookieJar) (auth.Identity, error) {
		built++
		if provErr != nil {
			return nil, provErr
		}
		identity.jar = jar
		return identity, nil
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		gate = middleware.NewEdgeGate(factory, middleware.EdgeGateConfig{
			CookiePrefix:  prefix,
			LoginPath:     "/login",
			ExcludedPaths: []string{"api", "login"},
			Debug:         debug,
		}, discardLogger())
		rec := httptest.NewRecorder()
		gate.Handler(next).ServeHTTP(rec, req)
		return rec
	}

	cleared := func(rec *httptest.ResponseRecorder) []string {
		var names []string
		for _, c := range rec.Result().Cookies() {
			if c.MaxAge < 0 {
				names = append(names, c.Name)
			}
		}
		return names
	}

	BeforeEach(func() {
		identity = &stubIdentity{}
		built = 0
		provErr = nil
		reached = false
		debug = false
	})

	It("lets excluded paths through untouched", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		Expect(reached).To(BeTrue())
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(built).To(BeZero())
	})

	It("redirects without calling the provider when no session cookie exists", func() {
		req := httptest.NewRequest(http.MethodGet, "http://portal.example.com/reports?x=1", nil)
		req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

		rec := serve(req)

		Expect(reached).To(BeFalse())
		Expect(built).To(BeZero())
		Expect(rec.Code).To(Equal(http.StatusTemporaryRedirect))
		loc, err := url.Parse(rec.Header().Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.Path).To(Equal("/login"))
		Expect(loc.Query().Get("returnTo")).To(Equal("http://portal.example.com/reports?x=1"))
	})

	It("honours forwarded scheme and host in returnTo", func() {
		req := httptest.NewRequest(http.MethodGet, "/reports", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", "portal.example.com")

		rec := serve(req)

		loc, _ := url.Parse(rec.Header().Get("Location"))
		Expect(loc.Query().Get("returnTo")).To(Equal("https://portal.example.com/reports"))
	})

	It("redirects without clearing cookies when the provider is not configured", func() {
		provErr = auth.ErrMissingConfig
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: prefix + "ref-auth-token", Value: "v"})

		rec := serve(req)

		Expect(rec.Code).To(Equal(http.StatusTemporaryRedirect))
		Expect(cleared(rec)).To(BeEmpty())
	})

	It("clears every session cookie when the user lookup fails", func() {
		identity.err = &auth.ProviderError{Status: 500, Message: "down"}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: prefix + "ref-auth-token.0", Value: "a"})
		req.AddCookie(&http.Cookie{Name: prefix + "ref-auth-token.1", Value: "b"})
		req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

		rec := serve(req)

		Expect(rec.Code).To(Equal(http.StatusTemporaryRedirect))
		Expect(identity.calls).To(Equal(1))
		Expect(cleared(rec)).To(ConsistOf(prefix+"ref-auth-token.0", prefix+"ref-auth-token.1"))
	})

	It("clears session cookies when no user is returned", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: prefix + "ref-auth-token", Value: "a"})

		rec := serve(req)

		Expect(reached).To(BeFalse())
		Expect(cleared(rec)).To(ConsistOf(prefix + "ref-auth-token"))
	})

	It("passes authenticated requests on with refreshed cookies", func() {
		identity.user = &auth.User{ID: "u-1"}
		identity.refresh = map[string]string{prefix + "ref-auth-token": "fresh"}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: prefix + "ref-auth-token", Value: "stale"})

		var (
			seen     string
			verified bool
		)
		handler := middleware.NewEdgeGate(factory, middleware.EdgeGateConfig{CookiePrefix: prefix}, discardLogger()).
			Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c, err := r.Cookie(prefix + "ref-auth-token")
				Expect(err).NotTo(HaveOccurred())
				seen = c.Value
				verified = auth.SessionVerified(r.Context())
			}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(seen).To(Equal("fresh"))
		Expect(verified).To(BeTrue())
		Expect(rec.Result().Cookies()).To(ContainElement(HaveField("Value", "fresh")))
	})

	It("validates an authenticated page load once ahead of the synchronizer", func() {
		identity.user = &auth.User{ID: "u-1"}
		req := httptest.NewRequest(http.MethodGet, "/staff", nil)
		req.AddCookie(&http.Cookie{Name: prefix + "ref-auth-token", Value: "token"})

		sync := auth.NewSynchronizer(factory, prefix, "", discardLogger())
		gated := middleware.NewEdgeGate(factory, middleware.EdgeGateConfig{CookiePrefix: prefix}, discardLogger())
		rec := httptest.NewRecorder()
		gated.Handler(sync.Middleware(next)).ServeHTTP(rec, req)

		Expect(reached).To(BeTrue())
		Expect(identity.calls).To(Equal(1))
	})

	It("emits debug headers with a bounded cookie name list", func() {
		debug = true
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for i := 0; i < 60; i++ {
			req.AddCookie(&http.Cookie{Name: "cookie_with_a_long_name_" + strings.Repeat("x", 5) + string(rune('a'+i%26)), Value: "v"})
		}

		rec := serve(req)

		Expect(rec.Header().Get("x-vento-auth-debug")).To(Equal("1"))
		Expect(rec.Header().Get("x-vento-auth-status")).To(Equal(middleware.GateNoCookies))
		Expect(rec.Header().Get("x-vento-path")).To(Equal("/"))
		Expect(rec.Header().Get("x-vento-cookie-count")).To(Equal("60"))
		Expect(len(rec.Header().Get("x-vento-cookie-names"))).To(Equal(512))
	})

	It("omits debug headers when debugging is off", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get("x-vento-auth-status")).To(BeEmpty())
	})
})
