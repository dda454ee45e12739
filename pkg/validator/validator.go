// Package validator wraps go-playground/validator with the rules the
// configuration and ops API share. Failures name fields by their json or
// mapstructure key path, e.g. "jobs.push_dispatch.schedule".
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	once     sync.Once
	validate *validator.Validate

	scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

func (e ValidationError) String() string {
	if e.Param == "" {
		return e.Field + " failed on " + e.Tag
	}
	return e.Field + " failed on " + e.Tag + "=" + e.Param
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, failure := range v {
		parts[i] = failure.String()
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct runs the validate tags of s. Rule failures come back as
// ValidationErrors; anything else (a nil or non-struct value) is returned as is.
func ValidateStruct(s any) error {
	err := engine().Struct(s)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	failures := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		failures = append(failures, ValidationError{
			Field: fieldPath(fe.Namespace()),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return failures
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if dot := strings.IndexByte(namespace, '.'); dot >= 0 {
		return namespace[dot+1:]
	}
	return namespace
}

// ValidSchedule reports whether spec parses as a five-field cron expression or descriptor.
func ValidSchedule(spec string) bool {
	if strings.TrimSpace(spec) == "" {
		return false
	}
	_, err := scheduleParser.Parse(spec)
	return err == nil
}

func engine() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(keyName)
		_ = validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
			return ValidSchedule(fl.Field().String())
		})
	})
	return validate
}

// keyName prefers the json key, then the mapstructure key, then the Go name.
func keyName(field reflect.StructField) string {
	for _, key := range []string{"json", "mapstructure"} {
		name, _, _ := strings.Cut(field.Tag.Get(key), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return field.Name
}
