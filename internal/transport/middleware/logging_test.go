package middleware

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("log filtering", func() {
	It("masks credential headers", func() {
		h := http.Header{}
		h.Set("Cookie", "sb-ref-auth-token=abc")
		h.Set("Apikey", "anon")
		h.Set("Accept", "text/html")

		out := filterSensitiveHeaders(h)

		Expect(out["Cookie"]).To(Equal("[FILTERED]"))
		Expect(out["Apikey"]).To(Equal("[FILTERED]"))
		Expect(out["Accept"]).To(Equal("text/html"))
	})

	It("masks nested token fields in JSON bodies", func() {
		out := filterSensitiveBody([]byte(`{"role":"cajero","session":{"access_token":"x"},"items":[{"refresh_token":"y"}]}`))

		Expect(out).To(ContainSubstring(`"role":"cajero"`))
		Expect(out).NotTo(ContainSubstring(`"x"`))
		Expect(out).NotTo(ContainSubstring(`"y"`))
	})

	It("hides non JSON bodies that mention secrets", func() {
		Expect(filterSensitiveBody([]byte("password=hunter2"))).To(Equal("[FILTERED - Contains sensitive data]"))
		Expect(filterSensitiveBody([]byte("plain"))).To(Equal("plain"))
	})
})
