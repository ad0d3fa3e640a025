package ratelimit

import (
	"fmt"
	"strings"
)

// majorParameterNames are the path parameters that split a shared rate-limit
// hash into separate buckets.
var majorParameterNames = map[string]bool{
	"guild_id":   true,
	"channel_id": true,
	"webhook_id": true,
}

// Route is an endpoint template such as "/guilds/{guild_id}/roles/{role_id}".
type Route struct {
	Method   string
	Template string
	params   []string
}

// NewRoute parses the placeholders of template.
func NewRoute(method, template string) Route {
	r := Route{Method: strings.ToUpper(method), Template: template}
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			break
		}
		r.params = append(r.params, rest[open+1:open+end])
		rest = rest[open+end+1:]
	}
	return r
}

// Key identifies the route in the route-to-hash table. Major parameter values
// are not part of the key.
func (r Route) Key() string {
	return r.Method + " " + r.Template
}

// ParamCount returns the number of placeholders in the template.
func (r Route) ParamCount() int {
	return len(r.params)
}

// Compile substitutes params into the template in order.
func (r Route) Compile(params ...string) (CompiledRoute, error) {
	if len(params) != len(r.params) {
		return CompiledRoute{}, fmt.Errorf("route %s: expected %d parameters, got %d", r.Key(), len(r.params), len(params))
	}

	path := r.Template
	var major []string
	for i, name := range r.params {
		if params[i] == "" {
			return CompiledRoute{}, fmt.Errorf("route %s: empty value for %s", r.Key(), name)
		}
		path = strings.Replace(path, "{"+name+"}", params[i], 1)
		if majorParameterNames[name] {
			major = append(major, name+"="+params[i])
		}
	}

	majorParams := NoMajorParameters
	if len(major) > 0 {
		majorParams = strings.Join(major, ":")
	}
	return CompiledRoute{Route: r, Path: path, MajorParameters: majorParams, values: append([]string(nil), params...)}, nil
}

// MustCompile is Compile for callers that pass a fixed parameter count.
func (r Route) MustCompile(params ...string) CompiledRoute {
	c, err := r.Compile(params...)
	if err != nil {
		panic(err)
	}
	return c
}

// CompiledRoute is a route with its parameters substituted.
type CompiledRoute struct {
	Route           Route
	Path            string
	MajorParameters string
	values          []string
}

// Param returns the value substituted for the named placeholder.
func (c CompiledRoute) Param(name string) (string, bool) {
	for i, p := range c.Route.params {
		if p == name && i < len(c.values) {
			return c.values[i], true
		}
	}
	return "", false
}

func (c CompiledRoute) String() string {
	return c.Route.Method + " " + c.Path
}
