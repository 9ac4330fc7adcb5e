package chatsync

import (
	"fmt"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/chatsync/internal/api"
	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/core/validate"
)

// invalid wraps field errors so they match chat.ErrValidation and still render as
// criterio.FieldErrors.
func invalid(errs criterio.FieldErrorsBuilder) error {
	if err := errs.ToError(); err != nil {
		return fmt.Errorf("%w: %w", chat.ErrValidation, err)
	}
	return nil
}

// check appends err under field when it is non-nil.
func check(errs criterio.FieldErrorsBuilder, field string, err error) criterio.FieldErrorsBuilder {
	if err != nil {
		return errs.Append(field, err)
	}
	return errs
}

func validateLogin(in api.LoginInput) error {
	var errs criterio.FieldErrorsBuilder
	errs = check(errs, "email", validate.Email(in.Email))
	if in.Password == "" {
		errs = errs.Append("password", fmt.Errorf("is required"))
	}
	return invalid(errs)
}

func validateRegister(in api.RegisterInput) error {
	var errs criterio.FieldErrorsBuilder
	errs = check(errs, "username", validate.MinLength(in.Username, 3))
	errs = check(errs, "email", validate.Email(in.Email))
	if len(in.Password) < 6 {
		errs = errs.Append("password", fmt.Errorf("must be at least 6 characters"))
	}
	errs = check(errs, "first_name", validate.Required(in.FirstName))
	errs = check(errs, "last_name", validate.Required(in.LastName))
	return invalid(errs)
}

func validateContent(field, content string, limit int) criterio.FieldErrorsBuilder {
	var errs criterio.FieldErrorsBuilder
	return check(errs, field, validate.Content(content, limit))
}

func validateID(errs criterio.FieldErrorsBuilder, field, id string) criterio.FieldErrorsBuilder {
	return check(errs, field, validate.Required(id))
}
