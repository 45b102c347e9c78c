package auth_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/frahmantamala/viso/internal/auth"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Synchronizer", func() {
	var (
		identity *fakeIdentity
		built    int
		sync     *auth.Synchronizer
		logger   *slog.Logger
	)

	BeforeEach(func() {
		identity = &fakeIdentity{user: &auth.User{ID: "u-1"}}
		built = 0
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		sync = auth.NewSynchronizer(factoryFor(identity, &built), "sb-", "", logger)
	})

	serve := func(r *http.Request) (*httptest.ResponseRecorder, *http.Request) {
		var seen *http.Request
		rec := httptest.NewRecorder()
		sync.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, r)
		return rec, seen
	}

	It("never calls the provider without session cookies", func() {
		rec, seen := serve(newRequest(&http.Cookie{Name: "theme", Value: "dark"}))
		Expect(built).To(Equal(0))
		Expect(identity.getCalls).To(Equal(0))
		Expect(seen).NotTo(BeNil())
		Expect(rec.Header().Values("Set-Cookie")).To(BeEmpty())
	})

	It("passes through when the provider is not configured", func() {
		missing := auth.NewSynchronizer(func(*auth.CookieJar) (auth.Identity, error) {
			return nil, auth.ErrMissingConfig
		}, "sb-", "", logger)
		rec := httptest.NewRecorder()
		reached := false
		missing.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true })).
			ServeHTTP(rec, newRequest(&http.Cookie{Name: "sb-ref-auth-token", Value: "x"}))
		Expect(reached).To(BeTrue())
		Expect(rec.Header().Values("Set-Cookie")).To(BeEmpty())
	})

	It("propagates refreshed cookies to the response and the downstream request", func() {
		identity.refreshed = map[string]string{"sb-ref-auth-token": "base64-new"}
		rec, seen := serve(newRequest(&http.Cookie{Name: "sb-ref-auth-token", Value: "base64-old"}))

		Expect(identity.getCalls).To(Equal(1))
		Expect(rec.Header().Values("Set-Cookie")).To(ConsistOf(HavePrefix("sb-ref-auth-token=base64-new")))
		c, err := seen.Cookie("sb-ref-auth-token")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Value).To(Equal("base64-new"))
	})

	It("deletes every session cookie when the refresh token is gone", func() {
		identity.err = &auth.ProviderError{Status: http.StatusBadRequest, Code: auth.CodeRefreshTokenNotFound}
		rec, seen := serve(newRequest(
			&http.Cookie{Name: "sb-ref-auth-token.0", Value: "a"},
			&http.Cookie{Name: "sb-ref-auth-token.1", Value: "b"},
			&http.Cookie{Name: "sb-other-auth-token", Value: "c"},
			&http.Cookie{Name: "theme", Value: "dark"},
		))

		setCookies := rec.Header().Values("Set-Cookie")
		Expect(setCookies).To(HaveLen(3))
		for _, header := range setCookies {
			Expect(header).To(HavePrefix("sb-"))
			Expect(header).To(ContainSubstring("Max-Age=0"))
		}
		Expect(seen.Cookies()).To(HaveLen(1))
		Expect(seen.Cookies()[0].Name).To(Equal("theme"))
	})

	It("skips requests whose session was already verified", func() {
		identity.refreshed = map[string]string{"sb-ref-auth-token": "base64-new"}
		req := newRequest(&http.Cookie{Name: "sb-ref-auth-token", Value: "base64-old"})
		rec, seen := serve(req.WithContext(auth.WithVerifiedSession(req.Context())))

		Expect(built).To(Equal(0))
		Expect(identity.getCalls).To(Equal(0))
		Expect(seen).NotTo(BeNil())
		Expect(rec.Header().Values("Set-Cookie")).To(BeEmpty())
	})

	It("fails open on other provider errors", func() {
		identity.err = errors.New("dial tcp: connection refused")
		rec, seen := serve(newRequest(&http.Cookie{Name: "sb-ref-auth-token", Value: "x"}))
		Expect(seen).NotTo(BeNil())
		Expect(rec.Code).To(Equal(http.StatusOK))
		for _, header := range rec.Header().Values("Set-Cookie") {
			Expect(strings.Contains(header, "Max-Age=0")).To(BeFalse())
		}
	})
})
