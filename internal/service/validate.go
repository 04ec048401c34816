package service

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const maxURLLength = 2048

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type registration struct {
	Username string
	Password string
}

func (r registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username,
			validation.Required,
			validation.Length(1, 64),
			validation.Match(usernamePattern),
		),
		validation.Field(&r.Password,
			validation.Required,
			validation.Length(1, 256),
		),
	)
}

func validateTargetURL(raw string) error {
	return validation.Validate(raw,
		validation.Required,
		validation.Length(1, maxURLLength),
		validation.By(func(value interface{}) error {
			s, _ := value.(string)
			if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
				return validation.NewError("validation_invalid_scheme", "URL must start with http:// or https://")
			}
			return nil
		}),
	)
}
