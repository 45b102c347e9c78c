package overview

import (
	"net/http"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/guard"
	"github.com/frahmantamala/viso/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Counter is one home page tile. Value is nil when the count failed.
type Counter struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value *int64 `json:"value"`
}

type Response struct {
	UserID     string    `json:"user_id"`
	ActingRole string    `json:"acting_role,omitempty"`
	Counters   []Counter `json:"counters"`
}

type counterQuery struct {
	key      string
	label    string
	relation string
	eq       map[string]string
}

var counters = []counterQuery{
	{key: "employees", label: "Empleados", relation: "employees"},
	{key: "pass_users", label: "Usuarios Pass", relation: "users", eq: map[string]string{"is_client": "true"}},
	{key: "businesses", label: "Negocios", relation: "pass_satellites"},
	{key: "sites", label: "Sedes", relation: "sites"},
}

type Handler struct {
	*transport.BaseHandler
}

func NewHandler(baseHandler *transport.BaseHandler) *Handler {
	return &Handler{BaseHandler: baseHandler}
}

// Home answers the overview counters for an authorized caller. Counts run
// concurrently; a failed count is reported as null.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	authz, ok := guard.FromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionMissing)
		return
	}

	out := make([]Counter, len(counters))
	eg, ctx := errgroup.WithContext(r.Context())
	for i, q := range counters {
		out[i] = Counter{Key: q.key, Label: q.label}
		eg.Go(func() error {
			n, err := authz.Client.Count(ctx, q.relation, q.eq)
			if err != nil {
				h.Logger.WarnContext(ctx, "overview: count failed", "relation", q.relation, "error", err)
				return nil
			}
			out[i].Value = &n
			return nil
		})
	}
	_ = eg.Wait()

	h.WriteJSON(w, http.StatusOK, Response{
		UserID:     authz.User.ID,
		ActingRole: internal.ActingRoleFromContext(r.Context()),
		Counters:   out,
	})
}

