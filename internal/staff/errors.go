package staff

import "errors"

var (
	// ErrInvalidName is returned when a first, last or legal name is empty or too long.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidEmail is returned when an employee email is malformed.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidAge is returned when an employee age is outside 0-150.
	ErrInvalidAge = errors.New("invalid age")

	// ErrInvalidAttributes is returned when the attributes map exceeds size limits.
	ErrInvalidAttributes = errors.New("invalid attributes")

	// ErrInvalidCIF is returned when a company tax code is empty or malformed.
	ErrInvalidCIF = errors.New("invalid CIF")
)
