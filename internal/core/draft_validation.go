package core

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"housingcore/pkg/domain"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-.]{5,24}$`)

var draftValidator = newDraftValidator()

func newDraftValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("phone", validPhone); err != nil {
		panic(err)
	}
	return v
}

// validPhone accepts international or local numbers with common separators and
// at least six digits.
func validPhone(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if !phonePattern.MatchString(raw) {
		return false
	}
	digits := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 6 && digits <= 15
}

func normalizeDraft(d domain.TenantDraft) domain.TenantDraft {
	d.Name = strings.TrimSpace(d.Name)
	d.Surname = strings.TrimSpace(d.Surname)
	d.TenantType = domain.TenantType(strings.ToLower(strings.TrimSpace(string(d.TenantType))))
	d.Email = strings.TrimSpace(d.Email)
	d.Phone = strings.TrimSpace(d.Phone)
	return d
}

// validateDraftIdentity checks the required identity fields.
func validateDraftIdentity(d domain.TenantDraft) error {
	return toValidationError(draftValidator.StructPartial(d, "Name", "Surname", "TenantType"))
}

// validateDraftContact checks the optional contact fields.
func validateDraftContact(d domain.TenantDraft) error {
	return toValidationError(draftValidator.StructPartial(d, "Email", "Phone"))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &domain.ValidationError{Field: fe.Field(), Reason: reasonFor(fe)}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "is not a valid email address"
	case "phone":
		return "is not a valid phone number"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
