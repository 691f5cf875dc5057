// Package validate holds the process-wide struct validator used for slots
// and HTTP payloads.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once  sync.Once
	v     *validator.Validate
	trans ut.Translator

	clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

func get() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ = uni.GetTranslator("en")

		v = validator.New(validator.WithRequiredStructEnabled())

		// prefer json tag names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			return IsClock(fl.Field().String())
		})
		_ = v.RegisterTranslation("hhmm", trans,
			func(t ut.Translator) error {
				return t.Add("hhmm", "{0} must be a 24h time in HH:MM form", true)
			},
			func(t ut.Translator, fe validator.FieldError) string {
				msg, _ := t.T("hhmm", fe.Field())
				return msg
			},
		)
	})
	return v, trans
}

// IsClock reports whether s is a 24h "HH:MM" time.
func IsClock(s string) bool {
	return clockRe.MatchString(s)
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	val, _ := get()
	return val.Struct(s)
}

// Messages renders validation errors as human-readable strings keyed by
// field name. Non-validation errors are returned under the "_" key.
func Messages(err error) map[string]string {
	if err == nil {
		return nil
	}
	_, tr := get()
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(tr)
	}
	return out
}
