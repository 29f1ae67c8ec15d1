package translations

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// RegisterValidatorTranslations makes validator errors render through t.
func RegisterValidatorTranslations(validate *validator.Validate, t *Translator) error {
	return validate.RegisterTranslation("required", t, func(ut.Translator) error {
		return nil // added in New
	}, func(trans ut.Translator, fe validator.FieldError) string {
		s, _ := trans.T("required", fe.Field())
		return s
	})
}
