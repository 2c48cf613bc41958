package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator. Field errors are reported under their
// JSON (or query) names.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(fieldName)
	v.RegisterStructValidation(adjustStockStructValidation, AdjustStockRequest{})
	return v
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// adjustStockStructValidation requires exactly one of delta and set.
func adjustStockStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(AdjustStockRequest)
	if (req.Delta == nil) == (req.Set == nil) {
		sl.ReportError(req.Delta, "delta", "Delta", "delta_xor_set", "")
	}
}
