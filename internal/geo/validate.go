package geo

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ErrInvalidCoordinate is returned for non-finite or out-of-range coordinates
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a position as accepted at API boundaries
type Coordinate struct {
	Lat      float64  `json:"lat" validate:"finite,min=-90,max=90"`
	Lng      float64  `json:"lng" validate:"finite,min=-180,max=180"`
	Altitude *float64 `json:"altitude" validate:"omitempty,finite"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	trans        ut.Translator
)

func initValidator() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ = uni.GetTranslator("en")
	_ = enTranslations.RegisterDefaultTranslations(validate, trans)
	_ = validate.RegisterTranslation("finite", trans,
		func(t ut.Translator) error {
			return t.Add("finite", "{0} must be a finite number", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T("finite", fe.Field())
			return msg
		},
	)
}

// ValidateCoordinate checks that lat/lng (and altitude, when given) are
// finite and within WGS-84 ranges. The returned error wraps
// ErrInvalidCoordinate and carries readable per-field messages.
func ValidateCoordinate(lat, lng float64, altitude *float64) error {
	validateOnce.Do(initValidator)

	err := validate.Struct(Coordinate{Lat: lat, Lng: lng, Altitude: altitude})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(trans))
	}
	return fmt.Errorf("%w: %s", ErrInvalidCoordinate, strings.Join(msgs, "; "))
}
