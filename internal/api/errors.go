// Package api is the REST client: it builds authenticated HTTP calls, runs
// them through the rate-limit dispatcher and decodes their results.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/guildwire/guildwire/internal/ratelimit"
)

// ErrGuildUnavailable is returned without a call for operations addressed to
// a guild that is currently in an outage.
var ErrGuildUnavailable = errors.New("guild unavailable")

// APIError is a non-2xx response with a structured body.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Errors     []FieldError
}

// FieldError is one leaf of a nested validation error, addressed by its path
// in the request body (e.g. "embeds[0].title").
type FieldError struct {
	Path    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error %d", e.StatusCode)
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, fe := range e.Errors {
		fmt.Fprintf(&b, "\n\t%s: %s (%s)", fe.Path, fe.Message, fe.Code)
	}
	return b.String()
}

// IsAPIError unwraps err to an *APIError.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnavailable reports whether err is the guild-unavailable fast failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrGuildUnavailable)
}

type errorBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
}

type leafError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeError converts a terminal non-2xx response into an *APIError. Bodies
// that are not JSON keep the status and use the raw text as message.
func DecodeError(resp *ratelimit.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(resp.Body))
		return apiErr
	}
	apiErr.Code = body.Code
	apiErr.Message = body.Message
	if len(body.Errors) > 0 {
		flattenErrors("", body.Errors, &apiErr.Errors)
	}
	return apiErr
}

// flattenErrors walks the recursive errors object. Object keys become path
// segments, numeric keys and array positions become indexes, and "_errors"
// arrays are the leaves.
func flattenErrors(path string, raw json.RawMessage, out *[]FieldError) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

		for _, k := range keys {
			if k == "_errors" {
				var leaves []leafError
				if json.Unmarshal(obj[k], &leaves) != nil {
					continue
				}
				for _, l := range leaves {
					*out = append(*out, FieldError{Path: path, Code: l.Code, Message: l.Message})
				}
				continue
			}
			flattenErrors(joinPath(path, k), obj[k], out)
		}
		return
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		for i, item := range arr {
			flattenErrors(joinPath(path, strconv.Itoa(i)), item, out)
		}
	}
}

func joinPath(path, key string) string {
	if _, err := strconv.Atoi(key); err == nil {
		return path + "[" + key + "]"
	}
	if path == "" {
		return key
	}
	return path + "." + key
}

// lessKey orders numeric keys numerically and the rest lexically.
func lessKey(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
