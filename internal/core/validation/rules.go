package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	esTranslations "github.com/go-playground/validator/v10/translations/es"
)

// RFCPattern is the Mexican taxpayer id: 3 or 4 letters, a yymmdd date and a
// 3 character homoclave.
var RFCPattern = regexp.MustCompile(`^[A-Z&Ñ]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

// RFCInputPattern accepts either case, for payloads normalized after validation.
const RFCInputPattern = `^[A-Za-z&Ññ]{3,4}[0-9]{6}[A-Za-z0-9]{3}$`

func IsRFC(s string) bool {
	return RFCPattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

var (
	registerOnce sync.Once
	trans        ut.Translator
)

// RegisterBindingRules adds the custom tags to gin's validator and installs
// Spanish messages. Safe to call more than once.
func RegisterBindingRules() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		uni := ut.New(es.New(), es.New())
		trans, _ = uni.GetTranslator("es")
		_ = esTranslations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("rfc", func(fl validator.FieldLevel) bool {
			return IsRFC(fl.Field().String())
		})
		_ = v.RegisterTranslation("rfc", trans, func(ut ut.Translator) error {
			return ut.Add("rfc", "{0} no tiene un formato de RFC válido", true)
		}, func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T("rfc", fe.Field())
			return t
		})
	})
}

// FromBindingError converts validator/v10 errors produced by ShouldBind into
// ValidationErrors keyed by JSON field name. Other errors are returned as is.
func FromBindingError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationErrors{}
	for _, fe := range verrs {
		msg := fe.Error()
		if trans != nil {
			msg = fe.Translate(trans)
		}
		out.Errors = append(out.Errors, ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}
