package guard_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/guard"
	"github.com/frahmantamala/viso/internal/permission"
	"github.com/frahmantamala/viso/internal/roleoverride"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGuard(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Guard Suite")
}

const siteA = "0b6c2a4e-8d1f-4a57-9f0e-3a1c5d7e9b21"

type fakeClient struct {
	mu sync.Mutex

	user      *auth.User
	userErr   error
	allowed   map[string]bool
	rpcErr    map[string]error
	delay     map[string]time.Duration
	employee  *roleoverride.Employee
	rules     map[string][]permission.RuleEntry
	rpcCalls  []string
	rpcScopes []permission.Context
	loaded    []string
}

func (f *fakeClient) GetUser(context.Context) (*auth.User, error) { return f.user, f.userErr }

func (f *fakeClient) SignOut(context.Context) error { return nil }

func (f *fakeClient) HasPermission(_ context.Context, code string, sc permission.Context) (bool, error) {
	if d := f.delay[code]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcCalls = append(f.rpcCalls, code)
	f.rpcScopes = append(f.rpcScopes, sc)
	if err := f.rpcErr[code]; err != nil {
		return false, err
	}
	return f.allowed[code], nil
}

func (f *fakeClient) LoadRoleRules(_ context.Context, role string) ([]permission.RuleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, role)
	return f.rules[role], nil
}

func (f *fakeClient) SiteType(context.Context, string) (string, error) { return "", nil }

func (f *fakeClient) AreaKind(context.Context, string) (string, error) { return "", nil }

func (f *fakeClient) GetEmployee(context.Context, string) (*roleoverride.Employee, error) {
	return f.employee, nil
}

func (f *fakeClient) Count(context.Context, string, map[string]string) (int64, error) { return 0, nil }

func requestWith(method string, cookies ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(method, "/staff?tab=active", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

var _ = Describe("Guard", func() {
	var (
		client   *fakeClient
		factory  guard.ClientFactory
		built    int
		g        *guard.Guard
		ctx      context.Context
		override *http.Cookie
	)

	BeforeEach(func() {
		client = &fakeClient{
			user:    &auth.User{ID: "u-1", Email: "owner@vento.test"},
			allowed: map[string]bool{"viso.access": true},
			rpcErr:  map[string]error{},
			delay:   map[string]time.Duration{},
			rules:   map[string][]permission.RuleEntry{},
		}
		built = 0
		factory = func(*auth.CookieJar) (guard.Client, error) {
			built++
			return client, nil
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		resolver := roleoverride.NewResolver(roleoverride.Config{
			PrivilegedRoles: []string{"propietario", "gerente_general"},
			ValidateTarget:  true,
		}, logger)
		g = guard.New(func(jar *auth.CookieJar) (guard.Client, error) { return factory(jar) }, resolver, guard.Config{}, logger)
		ctx = context.Background()
		override = &http.Cookie{Name: roleoverride.DefaultCookieName, Value: "cajero"}
	})

	require := func(opts guard.Options, cookies ...*http.Cookie) guard.Result {
		jar := auth.NewCookieJar(requestWith(http.MethodGet, cookies...), "")
		return g.RequireAppAccess(ctx, jar, opts)
	}

	It("redirects to login without a user", func() {
		client.user = nil
		res := require(guard.Options{AppID: "viso", ReturnTo: "/staff"})
		Expect(res).To(BeAssignableToTypeOf(&guard.Redirect{}))
		Expect(res.(*guard.Redirect).Location).To(Equal("/login?returnTo=%2Fstaff"))
		Expect(errors.Is(res.(*guard.Redirect).Err(), internal.ErrSessionMissing)).To(BeTrue())
		Expect(client.rpcCalls).To(BeEmpty())
	})

	It("redirects to login when the user lookup fails", func() {
		client.userErr = errors.New("provider down")
		res := require(guard.Options{AppID: "viso", ReturnTo: "/"})
		Expect(res.(*guard.Redirect).Reason).To(Equal(guard.ReasonLogin))
	})

	It("redirects to login when no client can be built", func() {
		factory = func(*auth.CookieJar) (guard.Client, error) { return nil, auth.ErrMissingConfig }
		res := require(guard.Options{AppID: "viso", ReturnTo: "/"})
		Expect(res.(*guard.Redirect).Reason).To(Equal(guard.ReasonLogin))
	})

	It("reuses a supplied client", func() {
		res := require(guard.Options{AppID: "viso", ReturnTo: "/", Client: client})
		Expect(res).To(BeAssignableToTypeOf(&guard.Authorized{}))
		Expect(built).To(Equal(0))
	})

	It("denies without app access", func() {
		client.allowed["viso.access"] = false
		res := require(guard.Options{AppID: "viso", ReturnTo: "/staff"})
		r := res.(*guard.Redirect)
		Expect(r.Location).To(Equal("/no-access?returnTo=%2Fstaff&reason=no_access"))
		Expect(r.Reason).To(Equal(guard.ReasonNoAccess))
		Expect(errors.Is(r.Err(), internal.ErrNoAccess)).To(BeTrue())
	})

	It("denies when the access RPC fails", func() {
		client.rpcErr["viso.access"] = errors.New("timeout")
		res := require(guard.Options{AppID: "viso", ReturnTo: "/"})
		Expect(res.(*guard.Redirect).Reason).To(Equal(guard.ReasonNoAccess))
	})

	It("authorizes with app access and no codes", func() {
		res := require(guard.Options{AppID: "viso", ReturnTo: "/"})
		a := res.(*guard.Authorized)
		Expect(a.User.ID).To(Equal("u-1"))
		Expect(a.Client).To(BeIdenticalTo(client))
		Expect(a.ActingRole).To(BeEmpty())
	})

	Context("with permission codes", func() {
		It("checks every normalized code with the session RPC", func() {
			client.allowed["viso.staff.view"] = true
			client.allowed["viso.staff.edit"] = true
			res := require(guard.Options{AppID: "viso", ReturnTo: "/", PermissionCodes: []string{"staff.view", "viso.staff.edit"}})
			Expect(res).To(BeAssignableToTypeOf(&guard.Authorized{}))
			Expect(client.rpcCalls).To(ConsistOf("viso.access", "viso.staff.view", "viso.staff.edit"))
		})

		It("reports the first denied code in order, not completion order", func() {
			client.allowed["viso.a"] = true
			client.delay["viso.b"] = 50 * time.Millisecond
			res := require(guard.Options{AppID: "viso", ReturnTo: "/x", PermissionCodes: []string{"a", "b", "c"}})
			r := res.(*guard.Redirect)
			Expect(r.Reason).To(Equal(guard.ReasonNoPermission))
			Expect(r.Permission).To(Equal("viso.b"))
			Expect(r.Location).To(Equal("/no-access?returnTo=%2Fx&reason=no_permission&permission=viso.b"))

			err := r.Err()
			Expect(errors.Is(err, internal.ErrNoPermission)).To(BeTrue())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Details).To(Equal(map[string]string{"permission": "viso.b"}))
		})

		It("treats an RPC error as a denial", func() {
			client.allowed["viso.a"] = true
			client.rpcErr["viso.a"] = errors.New("boom")
			res := require(guard.Options{AppID: "viso", ReturnTo: "/", PermissionCodes: []string{"a"}})
			Expect(res.(*guard.Redirect).Permission).To(Equal("viso.a"))
		})

		It("returns the same result when called twice", func() {
			opts := guard.Options{AppID: "viso", ReturnTo: "/", PermissionCodes: []string{"a"}}
			Expect(require(opts)).To(Equal(require(opts)))
			client.allowed["viso.a"] = true
			Expect(require(opts)).To(Equal(require(opts)))
		})
	})

	Context("with a role override cookie", func() {
		BeforeEach(func() {
			client.employee = &roleoverride.Employee{Role: "propietario", SiteID: siteA}
			client.allowed["viso.staff.edit"] = true
			client.rules["cajero"] = []permission.RuleEntry{
				{Code: "viso.pass_users.view", ScopeType: "site", ScopeSiteID: siteA},
			}
		})

		It("evaluates the override role under the employee's default site", func() {
			res := require(guard.Options{AppID: "viso", ReturnTo: "/", PermissionCodes: []string{"pass_users.view"}}, override)
			a := res.(*guard.Authorized)
			Expect(a.ActingRole).To(Equal("cajero"))
			Expect(client.loaded).To(Equal([]string{"cajero"}))
			Expect(client.rpcCalls).To(Equal([]string{"viso.access"}))
		})

		It("denies codes the override role lacks even if the real role has them", func() {
			res := require(guard.Options{AppID: "viso", ReturnTo: "/staff", PermissionCodes: []string{"staff.edit"}}, override)
			r := res.(*guard.Redirect)
			Expect(r.Reason).To(Equal(guard.ReasonRoleOverride))
			Expect(r.Location).To(Equal("/no-access?returnTo=%2Fstaff&reason=role_override&permission=viso.staff.edit"))
		})

		It("ignores the override for a non-privileged employee", func() {
			client.employee = &roleoverride.Employee{Role: "gerente", SiteID: siteA}
			res := require(guard.Options{AppID: "viso", ReturnTo: "/", PermissionCodes: []string{"staff.edit"}}, override)
			a := res.(*guard.Authorized)
			Expect(a.ActingRole).To(BeEmpty())
			Expect(client.loaded).To(BeEmpty())
		})

		It("ignores the override without an employee row", func() {
			client.employee = nil
			res := require(guard.Options{AppID: "viso", ReturnTo: "/", PermissionCodes: []string{"staff.edit"}}, override)
			Expect(res).To(BeAssignableToTypeOf(&guard.Authorized{}))
		})
	})

	Describe("Middleware", func() {
		var reached *http.Request

		handler := func(opts guard.Options) http.Handler {
			return g.Middleware(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = r
				w.WriteHeader(http.StatusNoContent)
			}))
		}

		BeforeEach(func() {
			reached = nil
		})

		It("redirects GET requests with 307 and the request URI as returnTo", func() {
			client.user = nil
			rec := httptest.NewRecorder()
			handler(guard.Options{AppID: "viso"}).ServeHTTP(rec, requestWith(http.MethodGet))
			Expect(rec.Code).To(Equal(http.StatusTemporaryRedirect))
			Expect(rec.Header().Get("Location")).To(Equal("/login?returnTo=%2Fstaff%3Ftab%3Dactive"))
			Expect(reached).To(BeNil())
		})

		It("redirects other methods with 303", func() {
			client.allowed["viso.access"] = false
			rec := httptest.NewRecorder()
			handler(guard.Options{AppID: "viso", ReturnTo: "/staff"}).ServeHTTP(rec, requestWith(http.MethodPost))
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
		})

		It("passes authorized requests with the authorization in context", func() {
			client.employee = &roleoverride.Employee{Role: "propietario", SiteID: siteA}
			client.rules["cajero"] = []permission.RuleEntry{{Code: "viso.pass_users.view"}}
			rec := httptest.NewRecorder()
			handler(guard.Options{AppID: "viso", PermissionCodes: []string{"pass_users.view"}}).
				ServeHTTP(rec, requestWith(http.MethodGet, override))

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(reached).NotTo(BeNil())
			a, ok := guard.FromContext(reached.Context())
			Expect(ok).To(BeTrue())
			Expect(a.User.Email).To(Equal("owner@vento.test"))
			Expect(internal.UserIDFromContext(reached.Context())).To(Equal("u-1"))
			Expect(internal.ActingRoleFromContext(reached.Context())).To(Equal("cajero"))
		})
	})
})
