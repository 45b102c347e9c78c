package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/viso/internal/transport/middleware"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RecoveryMiddleware", func() {
	It("answers a panic with the internal error envelope", func() {
		h := middleware.RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("secret detail")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("secret detail"))
		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	})

	It("re-panics aborted handlers", func() {
		h := middleware.RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		Expect(func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}).To(PanicWith(http.ErrAbortHandler))
	})
})

var _ = Describe("RequestID", func() {
	It("keeps a valid incoming trace id", func() {
		id := uuid.NewString()
		var seen string
		h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.TraceIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Trace-ID", id)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(seen).To(Equal(id))
		Expect(rec.Header().Get("X-Trace-ID")).To(Equal(id))
	})

	It("replaces a malformed trace id", func() {
		var seen string
		h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.TraceIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Trace-ID", "not-a-uuid")
		h.ServeHTTP(httptest.NewRecorder(), req)

		_, err := uuid.Parse(seen)
		Expect(err).NotTo(HaveOccurred())
	})
})
