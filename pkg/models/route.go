package models

import (
	"encoding/json"
	"fmt"
)

// Route is one request-handling entry point discovered in source
type Route struct {
	RouteID   string `json:"routeId"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Handler   string `json:"handler,omitempty"`
}

// MiddlewareFacts lists the path matchers declared by one middleware file
type MiddlewareFacts struct {
	File     string   `json:"file"`
	Matchers []string `json:"matchers"`
}

// ProofStep is one audit-trail record explaining a proof decision
type ProofStep struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet,omitempty"`
	Label   string `json:"label"`
}

// ProofTrace records whether controls were traced from a route handler
type ProofTrace struct {
	RouteID           string      `json:"routeId"`
	AuthProven        bool        `json:"authProven"`
	ValidationProven  bool        `json:"validationProven"`
	MiddlewareCovered bool        `json:"middlewareCovered"`
	Steps             []ProofStep `json:"steps"`
}

// MapKind tags which on-disk shape a route or middleware map was decoded from
type MapKind string

const (
	MapLegacy    MapKind = "legacy"
	MapVersioned MapKind = "versioned"
)

// RouteMap is the route list of an artifact. Older artifacts store a bare
// array, newer ones a versioned object; the shape is resolved here once.
type RouteMap struct {
	Kind    MapKind
	Version int
	Routes  []Route
}

type versionedRouteMap struct {
	Version int     `json:"version"`
	Routes  []Route `json:"routes"`
}

// UnmarshalJSON accepts either the legacy array or the versioned object
func (m *RouteMap) UnmarshalJSON(data []byte) error {
	switch firstByte(data) {
	case '[':
		var routes []Route
		if err := json.Unmarshal(data, &routes); err != nil {
			return err
		}
		*m = RouteMap{Kind: MapLegacy, Routes: routes}
	case '{':
		var v versionedRouteMap
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = RouteMap{Kind: MapVersioned, Version: v.Version, Routes: v.Routes}
	default:
		return fmt.Errorf("routeMap must be an array or an object")
	}
	return nil
}

// MarshalJSON always writes the versioned shape
func (m RouteMap) MarshalJSON() ([]byte, error) {
	version := m.Version
	if version == 0 {
		version = 1
	}
	routes := m.Routes
	if routes == nil {
		routes = []Route{}
	}
	return json.Marshal(versionedRouteMap{Version: version, Routes: routes})
}

// MiddlewareMap is the middleware fact list of an artifact
type MiddlewareMap struct {
	Kind       MapKind
	Version    int
	Middleware []MiddlewareFacts
}

type versionedMiddlewareMap struct {
	Version    int               `json:"version"`
	Middleware []MiddlewareFacts `json:"middleware"`
}

// UnmarshalJSON accepts a legacy array, a single legacy object or the versioned object
func (m *MiddlewareMap) UnmarshalJSON(data []byte) error {
	switch firstByte(data) {
	case '[':
		var facts []MiddlewareFacts
		if err := json.Unmarshal(data, &facts); err != nil {
			return err
		}
		*m = MiddlewareMap{Kind: MapLegacy, Middleware: facts}
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if _, ok := probe["middleware"]; ok {
			var v versionedMiddlewareMap
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			*m = MiddlewareMap{Kind: MapVersioned, Version: v.Version, Middleware: v.Middleware}
			return nil
		}
		var single MiddlewareFacts
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*m = MiddlewareMap{Kind: MapLegacy, Middleware: []MiddlewareFacts{single}}
	default:
		return fmt.Errorf("middlewareMap must be an array or an object")
	}
	return nil
}

// MarshalJSON always writes the versioned shape
func (m MiddlewareMap) MarshalJSON() ([]byte, error) {
	version := m.Version
	if version == 0 {
		version = 1
	}
	facts := m.Middleware
	if facts == nil {
		facts = []MiddlewareFacts{}
	}
	return json.Marshal(versionedMiddlewareMap{Version: version, Middleware: facts})
}

func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}
