package staff

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

const (
	maxNameLength     = 100
	maxAge            = 150
	maxAttributeKeys  = 50
	maxStringValueLen = 1024
	maxNestingDepth   = 10
	cifPattern        = `^[A-Z0-9]{9}$`
)

var cifRegex = regexp.MustCompile(cifPattern)

// ValidateName checks a person or company name.
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidName, field)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidName, field, maxNameLength)
	}
	return nil
}

// ValidateEmail checks a bare address such as ann@example.com.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// ValidateEmployee validates an employee before it is written.
func ValidateEmployee(e *Employee) error {
	if err := ValidateName("first_name", e.FirstName); err != nil {
		return err
	}
	if err := ValidateName("last_name", e.LastName); err != nil {
		return err
	}
	if err := ValidateEmail(e.Email); err != nil {
		return err
	}
	if e.Age < 0 || e.Age > maxAge {
		return fmt.Errorf("%w: %d", ErrInvalidAge, e.Age)
	}
	return ValidateAttributes(e.Attributes)
}

// ValidateCompany validates a company before it is written.
func ValidateCompany(c *Company) error {
	if err := ValidateName("legal_name", c.LegalName); err != nil {
		return err
	}
	if !cifRegex.MatchString(c.CIF) {
		return fmt.Errorf("%w: %q must be 9 uppercase letters or digits", ErrInvalidCIF, c.CIF)
	}
	return nil
}

// ValidateAttributes checks that an attributes map does not exceed size limits.
func ValidateAttributes(a Attributes) error {
	if a == nil {
		return nil
	}
	if len(a) > maxAttributeKeys {
		return fmt.Errorf("%w: more than %d keys", ErrInvalidAttributes, maxAttributeKeys)
	}
	return validateMapSize(map[string]any(a), 0)
}

// validateMapSize recursively checks map values against size limits.
func validateMapSize(m map[string]any, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: exceeds maximum nesting depth", ErrInvalidAttributes)
	}
	for k, v := range m {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: key too long", ErrInvalidAttributes)
		}
		if err := validateValueSize(v, depth); err != nil {
			return err
		}
	}
	return nil
}

func validateValueSize(v any, depth int) error {
	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: string value too long", ErrInvalidAttributes)
		}
	case map[string]any:
		if len(val) > maxAttributeKeys {
			return fmt.Errorf("%w: nested map too large", ErrInvalidAttributes)
		}
		return validateMapSize(val, depth+1)
	case []any:
		if len(val) > maxAttributeKeys {
			return fmt.Errorf("%w: array too large", ErrInvalidAttributes)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
