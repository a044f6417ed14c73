package entitlements

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Mountable interface {
	Handle() http.Handler
}

// RouterOptions configures which services to mount in the entitlements
// module. Each service is optional and will only be mounted if provided.
type RouterOptions struct {
	Subscription Mountable
}

// Router creates a new entitlements module router with configurable services.
//
// Example:
//
//	svc := entitlements.NewService(manager)
//
//	r := chi.NewRouter()
//	r.Mount("/entitlements", entitlements.Router(entitlements.RouterOptions{
//	    Subscription: svc,
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.Subscription != nil {
		r.Mount("/subscription", opts.Subscription.Handle())
	}

	return r
}
