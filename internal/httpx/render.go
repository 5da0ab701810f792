package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

const HeaderActor = "X-Actor-ID"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// report fields by their JSON names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error *apperr.AppError `json:"error"`
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	ae := apperr.FromError(err)
	if ae.Kind == apperr.KindInternal {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, ae.HTTPStatus, errorBody{Error: ae})
}

// decode reads an optional JSON body into dst and validates it. An empty body
// leaves dst at its zero value.
func decode(r *http.Request, dst any) error {
	if r.Body != nil && r.Body != http.NoBody {
		err := json.NewDecoder(r.Body).Decode(dst)
		if err != nil && !errors.Is(err, io.EOF) {
			return apperr.Validation("body", "invalid json").Wrap(err)
		}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("body", "validation failed").Wrap(err)
	}
	out := apperr.Validation(fieldPath(verrs[0]), "validation failed")
	for _, fe := range verrs {
		out.WithDetail(fieldPath(fe), formatValidationError(fe))
	}
	return out
}

// fieldPath drops the struct name from the namespace: items[0].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "len":
		return "must have length " + e.Param()
	case "numeric":
		return "must be numeric"
	default:
		return "is invalid"
	}
}

func actor(r *http.Request) (string, error) {
	a := strings.TrimSpace(r.Header.Get(HeaderActor))
	if a == "" {
		return "", apperr.Validation(HeaderActor, "actor header is required")
	}
	return a, nil
}

func itemIndex(r *http.Request) (int, error) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		return 0, apperr.Validation("idx", "item index must be a non-negative integer")
	}
	return idx, nil
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}
