package platform

import (
	"errors"
	"fmt"
)

//FallbackMessage is shown to users when a failure carries no usable message
const FallbackMessage = "Đã xảy ra lỗi, vui lòng thử lại sau"

//ErrTransport wraps failures where no HTTP response was received
var ErrTransport = errors.New("platform unreachable")

//APIError is a non 2xx response from the platform
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform responded with status %d", e.Status)
	}
	return fmt.Sprintf("platform responded with status %d: %s", e.Status, e.Message)
}

//UserMessage picks the message shown in a notification: the platform's own message when
//there is one, otherwise the error text, otherwise a generic fallback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	if msg := err.Error(); msg != "" {
		return msg
	}

	return FallbackMessage
}
