package schema

import (
	"net"
	"net/mail"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// String formats registered with openapi3. The prefix keeps them apart from
// formats other packages may define on the same global registry.
const (
	formatDate     = "eavl-date"
	formatDateTime = "eavl-datetime"
	formatDecimal  = "eavl-decimal"
	formatEmail    = "eavl-email"
	formatIP       = "eavl-ip"
	formatTime     = "eavl-time"
	formatDuration = "eavl-duration"
	formatURL      = "eavl-url"
	formatUUID     = "eavl-uuid"
)

func init() {
	define := func(name string, fn func(string) error) {
		openapi3.DefineStringFormatValidator(name, openapi3.NewCallbackValidator(fn))
	}
	define(formatDate, func(s string) error {
		_, err := time.Parse(time.DateOnly, s)
		return err
	})
	define(formatDateTime, func(s string) error {
		_, err := time.Parse(time.RFC3339Nano, s)
		return err
	})
	define(formatDecimal, func(s string) error {
		_, err := strconv.ParseFloat(s, 64)
		return err
	})
	define(formatEmail, func(s string) error {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return err
		}
		if addr.Address != s {
			return errors.New("expected a bare address")
		}
		return nil
	})
	define(formatIP, func(s string) error {
		if net.ParseIP(s) == nil {
			return errors.New("not an IP address")
		}
		return nil
	})
	define(formatTime, func(s string) error {
		if _, err := time.Parse(time.TimeOnly, s); err == nil {
			return nil
		}
		_, err := time.Parse("15:04", s)
		return err
	})
	define(formatDuration, func(s string) error {
		_, err := time.ParseDuration(s)
		return err
	})
	define(formatURL, func(s string) error {
		u, err := url.ParseRequestURI(s)
		if err != nil {
			return err
		}
		if u.Scheme == "" || u.Host == "" {
			return errors.New("absolute URL required")
		}
		return nil
	})
	define(formatUUID, func(s string) error {
		_, err := uuid.Parse(s)
		return err
	})
}

// typeSchema returns the structural schema of a single (non-array) value of
// field type ft. Every value may be null.
func typeSchema(ft types.FieldType) (*openapi3.Schema, error) {
	var s *openapi3.Schema
	switch ft {
	case types.FieldNested:
		s = openapi3.NewObjectSchema()
	case types.FieldBoolean:
		s = openapi3.NewBoolSchema()
	case types.FieldDate:
		s = openapi3.NewStringSchema().WithFormat(formatDate)
	case types.FieldDateTime:
		s = openapi3.NewStringSchema().WithFormat(formatDateTime)
	case types.FieldDecimal:
		s = &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeNumber, openapi3.TypeString}, Format: formatDecimal}
	case types.FieldEmail:
		s = openapi3.NewStringSchema().WithFormat(formatEmail)
	case types.FieldEnum, types.FieldString:
		s = openapi3.NewStringSchema()
	case types.FieldFloat:
		s = openapi3.NewFloat64Schema()
	case types.FieldIP:
		s = openapi3.NewStringSchema().WithFormat(formatIP)
	case types.FieldInteger:
		s = openapi3.NewIntegerSchema()
	case types.FieldRaw:
		s = openapi3.NewSchema()
	case types.FieldTime:
		s = openapi3.NewStringSchema().WithFormat(formatTime)
	case types.FieldTimeDuration:
		s = &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString, openapi3.TypeNumber}, Format: formatDuration}
	case types.FieldURL:
		s = openapi3.NewStringSchema().WithFormat(formatURL)
	case types.FieldUUID:
		s = openapi3.NewUUIDSchema().WithFormat(formatUUID)
	case types.FieldList:
		s = openapi3.NewArraySchema().WithItems(openapi3.NewSchema())
	default:
		return nil, errors.Wrapf(types.ErrInvalidFieldType, "code %d", int(ft))
	}
	return s.WithNullable(), nil
}
