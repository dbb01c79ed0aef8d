package routing

import (
	"log"
	"net/http"
	"runtime/debug"
)

// Router dispatches on exact path and method. Handlers run inside a
// recover guard so a panic becomes a 500 envelope instead of a dropped
// connection.
type Router struct {
	classifier *Classifier
	routes     map[string]map[string]routeEntry
}

type routeEntry struct {
	rc      RouteClass
	handler http.Handler
}

func NewRouter(classifier *Classifier) *Router {
	return &Router{
		classifier: classifier,
		routes:     make(map[string]map[string]routeEntry),
	}
}

func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	if r.routes[path] == nil {
		r.routes[path] = make(map[string]routeEntry)
	}

	r.routes[path][method] = routeEntry{
		rc: rc,
		handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("routing: panic on %s %s: %v\n%s", req.Method, req.URL.Path, rec, debug.Stack())
					WriteError(w, req, rc, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			h.ServeHTTP(w, req)
		}),
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		WriteError(w, req, r.classifier.Classify(req.URL.Path), http.StatusNotFound, "not_found", "not found")
		return
	}
	entry, ok := methods[req.Method]
	if !ok {
		WriteError(w, req, anyRouteClass(methods, r.classifier.Classify(req.URL.Path)), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	entry.handler.ServeHTTP(w, req)
}

func anyRouteClass(methods map[string]routeEntry, fallback RouteClass) RouteClass {
	for _, e := range methods {
		return e.rc
	}
	return fallback
}
