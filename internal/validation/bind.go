package validation

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
)

// BindAndValidate binds the JSON body into out and runs validation.
// On failure it writes the error envelope and returns an error for the
// handler to short-circuit.
func BindAndValidate(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		e := apierr.Wrap(apierr.KindValidation, "invalid request body", err)
		apierr.Abort(c, e)
		return e
	}
	return check(c, out, v)
}

// BindQuery binds the query string into out and runs validation.
func BindQuery(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindQuery(out); err != nil {
		e := apierr.Wrap(apierr.KindValidation, "invalid query parameters", err)
		apierr.Abort(c, e)
		return e
	}
	return check(c, out, v)
}

func check(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := v.Struct(out); err != nil {
		e := apierr.Wrap(apierr.KindValidation, "validation failed", err).WithDetails(FieldErrors(err))
		apierr.Abort(c, e)
		return e
	}
	return nil
}

// FieldErrors maps validator errors to field -> message.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fieldPath(fe)] = message(fe)
	}
	return out
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return ns
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have at least %s characters or items", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s characters or items", fe.Param())
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "delta_xor_set":
		return "exactly one of delta and set is required"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
