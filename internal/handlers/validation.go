package handlers

import (
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/matchdispatch/pkg/errors"
	"github.com/charlesng35/matchdispatch/pkg/response"
	appValidator "github.com/charlesng35/matchdispatch/pkg/validator"
)

// bindAndValidate decodes the JSON body into dest and validates it, writing
// a 400 with the failing fields and returning false when either step fails.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("request body must be a JSON object"))
		return false
	}
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(validationMessage(err)).WithInternal(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	failures, ok := err.(appValidator.ValidationErrors)
	if !ok || len(failures) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(failures))
	for _, failure := range failures {
		field := strings.ToLower(failure.Field)
		switch failure.Tag {
		case "required_without_all":
			group := append([]string{field}, strings.Fields(strings.ToLower(failure.Param))...)
			sort.Strings(group)
			messages = append(messages, "one of "+strings.Join(group, ", ")+" is required")
		case "required":
			messages = append(messages, field+" is required")
		default:
			messages = append(messages, field+" is invalid ("+failure.Tag+")")
		}
	}
	return strings.Join(dedupe(messages), "; ")
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// queryInt reads a non-negative integer query parameter, using fallback when
// it is absent or malformed.
func queryInt(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
