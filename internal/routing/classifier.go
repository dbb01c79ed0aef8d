package routing

import (
	"errors"
	"strings"
)

type RouteClass string

const (
	RouteClassPublicAPI RouteClass = "public_api"
	RouteClassOps       RouteClass = "ops"
)

// Classifier maps request paths to route classes using the allowlist for
// one entrypoint. Paths absent from the allowlist stay routable only as
// 404s and are classified by prefix convention.
type Classifier struct {
	entrypoint string
	allowExact map[string]RouteClass
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	exact := make(map[string]RouteClass, len(ep.Routes))
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, errors.New("allowlist: invalid route")
		}
		exact[r.Path] = RouteClass(r.RouteClass)
	}
	return &Classifier{entrypoint: entrypoint, allowExact: exact}, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.allowExact[path]; ok {
		return rc
	}
	if hasPrefixSegment(path, "/metrics") || path == "/health" {
		return RouteClassOps
	}
	return RouteClassPublicAPI
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
