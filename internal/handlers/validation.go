package handlers

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/skyquote/skyquote/pkg/errors"
	"github.com/skyquote/skyquote/pkg/response"
	appValidator "github.com/skyquote/skyquote/pkg/validator"
)

// bindAndValidate decodes the JSON body into dest and validates it, writing
// the error response itself when either step fails.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewValidation("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}

	return true
}

// bindOptional is bindAndValidate for endpoints whose body may be omitted
// entirely: an empty body leaves dest at its zero value. Binding happens
// unconditionally so chunked requests (ContentLength -1) are still read.
func bindOptional[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		response.Error(c, appErrors.NewValidation("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	if err == nil {
		return "invalid request payload"
	}

	if ve, ok := err.(appValidator.ValidationErrors); ok {
		if len(ve) == 0 {
			return "invalid request payload"
		}

		messages := make([]string, 0, len(ve))
		for _, failure := range ve {
			switch failure.Tag {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", failure.Field))
			case "email":
				messages = append(messages, fmt.Sprintf("%s must be a valid email address", failure.Field))
			case "ukpostcode":
				messages = append(messages, fmt.Sprintf("%s must be a valid UK postcode", failure.Field))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s characters", failure.Field, failure.Param))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s characters", failure.Field, failure.Param))
			default:
				messages = append(messages, fmt.Sprintf("%s is invalid", failure.Field))
			}
		}
		return strings.Join(messages, "; ")
	}

	return err.Error()
}
