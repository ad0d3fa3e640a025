package api

import (
	"reflect"
	"strings"
	"testing"

	"github.com/guildwire/guildwire/internal/ratelimit"
)

func TestDecodeErrorFlattensNestedErrors(t *testing.T) {
	body := `{
		"code": 50035,
		"message": "Invalid Form Body",
		"errors": {
			"name": {"_errors": [{"code": "BASE_TYPE_REQUIRED", "message": "This field is required"}]},
			"embeds": {
				"10": {"title": {"_errors": [{"code": "MAX", "message": "too long"}]}},
				"2": {"title": {"_errors": [{"code": "MAX", "message": "too long"}]}}
			},
			"roles": [
				{"_errors": [{"code": "ROLE_A", "message": "bad role"}]},
				{"_errors": [{"code": "ROLE_B", "message": "worse role"}]}
			]
		}
	}`

	err := DecodeError(&ratelimit.Response{StatusCode: 400, Body: []byte(body)})
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("DecodeError returned %T", err)
	}

	want := []FieldError{
		{Path: "embeds[2].title", Code: "MAX", Message: "too long"},
		{Path: "embeds[10].title", Code: "MAX", Message: "too long"},
		{Path: "name", Code: "BASE_TYPE_REQUIRED", Message: "This field is required"},
		{Path: "roles[0]", Code: "ROLE_A", Message: "bad role"},
		{Path: "roles[1]", Code: "ROLE_B", Message: "worse role"},
	}
	if !reflect.DeepEqual(apiErr.Errors, want) {
		t.Errorf("Errors =\n%+v\nwant\n%+v", apiErr.Errors, want)
	}
	if !strings.Contains(apiErr.Error(), "embeds[10].title: too long (MAX)") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestDecodeErrorNonJSONBody(t *testing.T) {
	err := DecodeError(&ratelimit.Response{StatusCode: 502, Body: []byte("<html>bad gateway</html>\n")})
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("DecodeError returned %T", err)
	}
	if apiErr.StatusCode != 502 || apiErr.Message != "<html>bad gateway</html>" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestDecodeErrorTopLevelOnly(t *testing.T) {
	err := DecodeError(&ratelimit.Response{StatusCode: 403, Body: []byte(`{"code":50013,"message":"Missing Permissions"}`)})
	apiErr, _ := IsAPIError(err)
	if apiErr.Code != 50013 || len(apiErr.Errors) != 0 {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if got := apiErr.Error(); got != "api error 403 (code 50013): Missing Permissions" {
		t.Errorf("Error() = %q", got)
	}
}
