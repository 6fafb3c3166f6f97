package attendance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// max counts runes; bcrypt limits passwords to 72 bytes.
	if err := v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	}); err != nil {
		panic(err)
	}
	return v
}

// StudentInput carries the editable student fields. Password is required on
// create and optional on edit. A nil IsActive means active on create and
// unchanged on edit.
type StudentInput struct {
	FullName      string `validate:"required,max=100"`
	StudentNumber string `validate:"required,max=20"`
	Email         string `validate:"required,email,max=100"`
	Password      string `validate:"omitempty,maxbytes=72"`
	IsActive      *bool
}

type CourseInput struct {
	CourseCode string `validate:"required,max=10"`
	CourseName string `validate:"required,max=100"`
	Credits    int    `validate:"gt=0"`
	Semester   string `validate:"required,max=20"`
}

type AdminInput struct {
	Username string `validate:"required,max=100"`
	Password string `validate:"required,maxbytes=72"`
}

func (in *StudentInput) normalize() {
	in.FullName = strings.TrimSpace(in.FullName)
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	in.Email = strings.TrimSpace(in.Email)
}

func (in *CourseInput) normalize() {
	in.CourseCode = strings.TrimSpace(in.CourseCode)
	in.CourseName = strings.TrimSpace(in.CourseName)
	in.Semester = strings.TrimSpace(in.Semester)
}

// check validates v and turns the first failing field into a ValidationError.
func check(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return validationError(op, "invalid input").with(err)
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "please fill in all required fields"
	case "email":
		msg = "email address is not valid"
	case "gt":
		msg = fmt.Sprintf("%s must be greater than %s", fieldName(fe.Field()), fe.Param())
	case "maxbytes":
		msg = fmt.Sprintf("%s must be at most %s bytes", fieldName(fe.Field()), fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", fieldName(fe.Field()), fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", fieldName(fe.Field()))
	}
	return validationError(op, msg).with(err)
}

func fieldName(f string) string {
	var b strings.Builder
	for i, r := range f {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
