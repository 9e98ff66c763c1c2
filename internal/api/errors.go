package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aquaponics/pondwatch/internal/dashboard"
	"github.com/aquaponics/pondwatch/pkg/rotation"
	"github.com/aquaponics/pondwatch/pkg/source"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Message ErrorMessage `json:"message"`
}

type ErrorMessage struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
}

func newError(code int, reason, advice string, cause error) *echo.HTTPError {
	he := echo.NewHTTPError(code, ErrorResponse{Message: ErrorMessage{Reason: reason, Advice: advice}})
	if cause != nil {
		he = he.SetInternal(cause)
	}
	return he
}

func badRequest(advice string, err error) *echo.HTTPError {
	return newError(http.StatusBadRequest, "bad request", advice, err)
}

// toHTTPError maps dashboard errors onto status codes:
// unknown pond 404, not enough rows or misaligned ponds 422.
func toHTTPError(err error) *echo.HTTPError {
	var insufficient *rotation.InsufficientDataError
	switch {
	case errors.As(err, &insufficient):
		return newError(http.StatusUnprocessableEntity, "not enough data",
			fmt.Sprintf("pond has %d rows, the view needs at least %d", insufficient.Have, insufficient.Need), err)
	case errors.Is(err, source.ErrUnknownPond):
		return newError(http.StatusNotFound, "unknown pond", "", err)
	case errors.Is(err, dashboard.ErrNoPonds):
		return newError(http.StatusNotFound, "no ponds available", "", err)
	case errors.Is(err, rotation.ErrMisaligned):
		return newError(http.StatusUnprocessableEntity, "ponds are not aligned",
			"use the truncate align policy to compare ponds of different lengths", err)
	default:
		return newError(http.StatusInternalServerError, "unexpected error", "", err)
	}
}
