package tool

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// FieldError is one failed rule on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Tool   string       `json:"tool"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: invalid input for %s: %s", contractx.ErrValidationFailed, e.Tool, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return contractx.ErrValidationFailed
}

func decodeInput(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := decoder.Decode(args); err != nil {
		return &ValidationError{Fields: decodeFieldErrors(err)}
	}
	if err := inputValidator().Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fieldPath(fe.Namespace()), Message: ruleMessage(fe)})
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

// fieldPath drops the struct name that validator puts first.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func decodeFieldErrors(err error) []FieldError {
	var merr *mapstructure.Error
	if errors.As(err, &merr) {
		fields := make([]FieldError, 0, len(merr.Errors))
		for _, msg := range merr.Errors {
			field := ""
			if name, _, ok := strings.Cut(strings.TrimPrefix(msg, "'"), "'"); ok {
				field = name
			}
			fields = append(fields, FieldError{Field: field, Message: msg})
		}
		return fields
	}
	return []FieldError{{Message: err.Error()}}
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "ne":
		return "must not be " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	default:
		return "failed rule " + fe.Tag()
	}
}
