package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/siteforge/internal/db"
	"github.com/jonathan/siteforge/internal/deploy"
	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/safefetch"
)

const maxBodyBytes = 1 << 20

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Message string
	// Fields maps JSON field paths to the failed rule.
	Fields map[string]string
}

func (e *ErrValidation) Error() string {
	if len(e.Fields) == 0 {
		return "validation error: " + e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation error: %s (%s)", e.Message, strings.Join(names, ", "))
}

// ErrConflict indicates the resource is not in a state that allows the request.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// errGenerationDisabled is returned when no generation service is configured.
var errGenerationDisabled = errors.New("generation is not configured")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		verr     *ErrValidation
		conflict *ErrConflict
		blocked  *safefetch.BlockedError
		derr     *deploy.Error
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr), errors.As(err, &blocked):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.Is(err, generation.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, generation.ErrDeployDisabled), errors.Is(err, errGenerationDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &derr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &ErrValidation{Message: "request body is empty"}
		}
		return &ErrValidation{Message: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if err := s.validate.Struct(dst); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ErrValidation{Message: err.Error()}
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if idx := strings.Index(path, "."); idx >= 0 {
			path = path[idx+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[path] = rule
	}
	return &ErrValidation{Message: "invalid request", Fields: fields}
}
