// Package validation holds the pure input checks that run before any store
// mutation or cache lookup. Struct-level rules use validator/v10 tags; the
// size and range rules that depend on configuration are plain functions.
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/pkg/config"
	apperrors "graph-memory/backend/pkg/errors"
)

var (
	ownerIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_@-]+$`)
	relTypePattern  = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	nonWordSequence = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// Validator checks inputs against the configured limits
type Validator struct {
	validate *validator.Validate
	limits   config.ValidationConfig
}

// New creates a validator with the custom tags registered
func New(limits config.ValidationConfig) *Validator {
	v := &Validator{
		validate: validator.New(),
		limits:   limits,
	}

	// Use JSON tag names in error messages
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.validate.RegisterValidation("ownerid", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || ownerIDPattern.MatchString(s)
	})
	_ = v.validate.RegisterValidation("reltype", func(fl validator.FieldLevel) bool {
		return relTypePattern.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("nodetype", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == constants.LabelFact || s == constants.LabelEntity
	})
	_ = v.validate.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || graph.Status(s).Valid()
	})

	return v
}

// Limits returns the configured limits
func (v *Validator) Limits() config.ValidationConfig {
	return v.limits
}

// Struct runs tag validation and reports the first failing field
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return apperrors.NewValidation(e.Field(), message(e.Tag(), e.Param()))
	}
	return apperrors.NewValidation("request", err.Error())
}

func message(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "ownerid":
		return "must contain only letters, digits, '_', '-' or '@'"
	case "reltype":
		return "must contain only letters, digits or '_'"
	case "nodetype":
		return "must be Fact or Entity"
	case "status":
		return "must be active, outdated or archived"
	case "gt":
		return fmt.Sprintf("must be greater than %s", param)
	case "gte":
		return fmt.Sprintf("must be at least %s", param)
	case "lte":
		return fmt.Sprintf("must be at most %s", param)
	case "min":
		return fmt.Sprintf("must have at least %s items", param)
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(param, " ", ", "))
	default:
		return fmt.Sprintf("failed %s validation", tag)
	}
}

// Text checks the rune length of a text field. required rejects blank text.
func (v *Validator) Text(field, text string, required bool) error {
	if required && strings.TrimSpace(text) == "" {
		return apperrors.NewValidation(field, "is required")
	}
	if n := utf8.RuneCountInString(text); n > v.limits.MaxTextLength {
		return apperrors.NewValidation(field, fmt.Sprintf("length %d exceeds maximum %d", n, v.limits.MaxTextLength))
	}
	return nil
}

// Metadata checks the serialized size of a metadata document
func (v *Validator) Metadata(m graph.Metadata) error {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return apperrors.NewValidation("metadata", "must be JSON-serializable")
	}
	if len(b) > v.limits.MaxMetadataSize {
		return apperrors.NewValidation("metadata", fmt.Sprintf("size %d bytes exceeds maximum %d", len(b), v.limits.MaxMetadataSize))
	}
	return nil
}

// TTLDays checks that ttl_days, when present, lies in (min, max]
func (v *Validator) TTLDays(ttl *float64) error {
	if ttl == nil {
		return nil
	}
	if *ttl <= v.limits.MinTTLDays || *ttl > v.limits.MaxTTLDays {
		return apperrors.NewValidation("ttl_days", fmt.Sprintf("must be within (%g, %g]", v.limits.MinTTLDays, v.limits.MaxTTLDays))
	}
	return nil
}

// OwnerID normalizes and validates an owner id
func OwnerID(owner string) (string, error) {
	owner = NormalizeOwnerID(owner)
	if !ownerIDPattern.MatchString(owner) {
		return "", apperrors.NewValidation("owner_id", message("ownerid", ""))
	}
	return owner, nil
}

// NormalizeOwnerID trims owner and substitutes the default partition when empty
func NormalizeOwnerID(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return config.DefaultOwnerID
	}
	return owner
}

// NormalizeRelationType turns a free-form predicate into upper SNAKE_CASE.
// Nothing usable left falls back to RELATED_TO.
func NormalizeRelationType(s string) string {
	out := strings.Trim(nonWordSequence.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
	if out == "" {
		return constants.EdgeRelatedTo
	}
	return strings.ToUpper(out)
}

// Status validates a status value
func Status(s string) error {
	if !graph.Status(s).Valid() {
		return apperrors.NewValidation("status", message("status", ""))
	}
	return nil
}

// Positive rejects zero and negative counts
func Positive(field string, n int) error {
	if n <= 0 {
		return apperrors.NewValidation(field, "must be positive")
	}
	return nil
}

// NonNegative rejects negative counts
func NonNegative(field string, n int) error {
	if n < 0 {
		return apperrors.NewValidation(field, "must not be negative")
	}
	return nil
}

// Threshold rejects similarity thresholds outside [0, 1]
func Threshold(field string, t *float64) error {
	if t != nil && (*t < 0 || *t > 1) {
		return apperrors.NewValidation(field, "must be within [0, 1]")
	}
	return nil
}
