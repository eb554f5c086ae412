package authcore

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared by all requests; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newValidationError("request", err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = "failed " + fe.Tag() + " check"
	}
	return &ValidationError{Fields: fields}
}
