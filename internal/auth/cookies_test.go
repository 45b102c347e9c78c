package auth_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/viso/internal/auth"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newRequest(cookies ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "https://viso.ventogroup.co/staff", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func cookieNames(cookies []*http.Cookie) []string {
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}

var _ = Describe("CookieJar", func() {
	var r *http.Request

	BeforeEach(func() {
		r = newRequest(
			&http.Cookie{Name: "sb-ref-auth-token.1", Value: "tail"},
			&http.Cookie{Name: "sb-ref-auth-token.0", Value: "head"},
			&http.Cookie{Name: "theme", Value: "dark"},
		)
	})

	It("reads request cookies ordered by name", func() {
		jar := auth.NewCookieJar(r, "")
		Expect(cookieNames(jar.Read())).To(Equal([]string{"sb-ref-auth-token.0", "sb-ref-auth-token.1", "theme"}))
		Expect(jar.HasPrefixed("sb-")).To(BeTrue())
		Expect(jar.HasPrefixed("nexo_")).To(BeFalse())
	})

	It("overlays staged values and deletions on reads", func() {
		jar := auth.NewCookieJar(r, "")
		jar.Stage("theme", "light", auth.CookieOptions{})
		jar.Clear("sb-ref-auth-token.1")

		v, ok := jar.Get("theme")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("light"))
		_, ok = jar.Get("sb-ref-auth-token.1")
		Expect(ok).To(BeFalse())
	})

	It("keeps only the latest staging of a name", func() {
		jar := auth.NewCookieJar(r, "")
		jar.Stage("a", "1", auth.CookieOptions{})
		jar.Stage("a", "2", auth.CookieOptions{})
		staged := jar.Staged()
		Expect(staged).To(HaveLen(1))
		Expect(staged[0].Value).To(Equal("2"))
		Expect(staged[0].Path).To(Equal("/"))
	})

	It("forces the configured domain on staged cookies", func() {
		jar := auth.NewCookieJar(r, ".ventogroup.co")
		jar.Stage("a", "1", auth.CookieOptions{Domain: "evil.test"})
		Expect(jar.Staged()[0].Domain).To(Equal(".ventogroup.co"))
	})

	It("clears every prefixed cookie of the request", func() {
		jar := auth.NewCookieJar(r, "")
		cleared := jar.ClearPrefixed("sb-")
		Expect(cleared).To(ConsistOf("sb-ref-auth-token.0", "sb-ref-auth-token.1"))
		Expect(cookieNames(jar.Read())).To(Equal([]string{"theme"}))
	})

	It("flushes each staged cookie once", func() {
		jar := auth.NewCookieJar(r, "")
		jar.Stage("a", "1", auth.CookieOptions{})

		first := httptest.NewRecorder()
		jar.FlushToResponse(first)
		Expect(first.Result().Cookies()).To(HaveLen(1))

		jar.Stage("b", "2", auth.CookieOptions{})
		second := httptest.NewRecorder()
		jar.FlushToResponse(second)
		Expect(cookieNames(second.Result().Cookies())).To(Equal([]string{"b"}))
	})

	It("writes deletions as Max-Age=0", func() {
		jar := auth.NewCookieJar(r, "")
		jar.Clear("theme")
		rec := httptest.NewRecorder()
		jar.FlushToResponse(rec)
		Expect(rec.Header().Values("Set-Cookie")).To(ConsistOf(ContainSubstring("Max-Age=0")))
	})

	It("applies the current cookie set to the request", func() {
		jar := auth.NewCookieJar(r, "")
		jar.Stage("sb-ref-auth-token.0", "fresh", auth.CookieOptions{})
		jar.Clear("sb-ref-auth-token.1")
		jar.ApplyToRequest(r)

		c, err := r.Cookie("sb-ref-auth-token.0")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Value).To(Equal("fresh"))
		_, err = r.Cookie("sb-ref-auth-token.1")
		Expect(err).To(MatchError(http.ErrNoCookie))
	})
})
