package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/pagedb/internal/errors"
)

const (
	// Separator joins the components of a composite index key.
	Separator = "/"

	MaxNameSize = 128
	MaxKeySize  = 1024 // 1 KB
)

// Validator checks the components that make up composite index keys
type Validator struct {
	maxNameSize int
	maxKeySize  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNameSize: MaxNameSize,
		maxKeySize:  MaxKeySize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxNameSize, maxKeySize int) *Validator {
	return &Validator{
		maxNameSize: maxNameSize,
		maxKeySize:  maxKeySize,
	}
}

// ValidateName validates a table, index or column name
func (v *Validator) ValidateName(kind, name string) error {
	if name == "" {
		return errors.InvalidArgument(fmt.Sprintf("%s name cannot be empty", kind), nil)
	}
	if len(name) > v.maxNameSize {
		return errors.InvalidArgument(fmt.Sprintf("%s name exceeds maximum size of %d bytes", kind, v.maxNameSize), nil)
	}
	if strings.Contains(name, Separator) {
		return errors.InvalidArgument(fmt.Sprintf("%s name %q cannot contain %q", kind, name, Separator), nil).
			WithDetail(kind, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.InvalidArgument(fmt.Sprintf("%s name cannot contain control characters", kind), nil)
		}
	}
	return nil
}

// ValidateIndexValue rejects values that would make prefix search on a
// composite key ambiguous.
func (v *Validator) ValidateIndexValue(index, value string) error {
	if strings.Contains(value, Separator) {
		return errors.InvalidArgument(fmt.Sprintf("value %q for index %s cannot contain %q", value, index, Separator), nil).
			WithDetail("index", index)
	}
	if len(value) > v.maxKeySize {
		return errors.InvalidArgument(fmt.Sprintf("value for index %s exceeds maximum size of %d bytes", index, v.maxKeySize), nil)
	}
	return nil
}

// ValidatePrimaryKey validates a row key. The key is the last component of
// a composite key, so it may contain the separator.
func (v *Validator) ValidatePrimaryKey(key string) error {
	if key == "" {
		return errors.InvalidArgument("primary key cannot be empty", nil)
	}
	if len(key) > v.maxKeySize {
		return errors.InvalidArgument(fmt.Sprintf("primary key exceeds maximum size of %d bytes", v.maxKeySize), nil)
	}
	if strings.Contains(key, "\x00") {
		return errors.InvalidArgument("primary key cannot contain null bytes", nil)
	}
	return nil
}
