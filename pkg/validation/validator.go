package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance shared across the engine.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// PutRequest represents a single-column mutation request.
type PutRequest struct {
	Row    []byte `validate:"required,min=1"`
	Column []byte `validate:"required,min=1"`
	Value  []byte
}

// DeleteRequest represents a delete (tombstone) request.
type DeleteRequest struct {
	Row    []byte `validate:"required,min=1"`
	Column []byte `validate:"required,min=1"`
	TTLMs  int64  `validate:"gte=0"`
}

// VersionRangeRequest represents a get_versions query with an optional
// time range.
type VersionRangeRequest struct {
	Max  int   `validate:"required,min=1"`
	TLo  int64 `validate:"gte=0"`
	THi  int64 `validate:"gte=0"`
}

// CompactionConfigRequest mirrors the per-compaction retention options
// from spec §4.5. ColumnFamily.Compact does not use it; it checks
// compaction.Options.Validate instead.
type CompactionConfigRequest struct {
	MaxVersions uint32 `validate:"gte=0"`
	MaxAgeMs    int64  `validate:"gte=0"`
}

// TableConfigRequest mirrors the configuration options from spec §6.
type TableConfigRequest struct {
	FlushThreshold         int `validate:"required,min=1"`
	CompactionIntervalMs   int `validate:"required,min=1"`
	MinorCompactionTrigger int `validate:"required,min=2"`
	TombstoneGraceMs       int `validate:"gte=0"`
}

// ValidatePutRequest validates a Put request against the InvalidArgument
// rules: empty row or column key.
func ValidatePutRequest(req *PutRequest) error {
	if req == nil {
		return errors.New("put request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateDeleteRequest validates a Delete request: empty row/column,
// or a negative TTL.
func ValidateDeleteRequest(req *DeleteRequest) error {
	if req == nil {
		return errors.New("delete request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateVersionRangeRequest validates a get_versions request,
// rejecting an inverted [t_lo, t_hi] range.
func ValidateVersionRangeRequest(req *VersionRangeRequest) error {
	if req == nil {
		return errors.New("version range request cannot be nil")
	}
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if req.THi != 0 && req.TLo > req.THi {
		return fmt.Errorf("TimeRange: inverted range, t_lo (%d) > t_hi (%d)", req.TLo, req.THi)
	}
	return nil
}

// ValidateCompactionConfig validates per-compaction retention options.
func ValidateCompactionConfig(req *CompactionConfigRequest) error {
	if req == nil {
		return errors.New("compaction config cannot be nil")
	}
	return formatValidationError(validate.Struct(req))
}

// ValidateTableConfig validates the table-wide configuration options.
func ValidateTableConfig(req *TableConfigRequest) error {
	if req == nil {
		return errors.New("table config cannot be nil")
	}
	return formatValidationError(validate.Struct(req))
}

// formatValidationError converts validator errors to a user-friendly
// message, reporting the first failing field.
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "gte":
			return fmt.Errorf("%s: must not be negative", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
