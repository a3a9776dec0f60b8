package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/matijarozman/muse-core/core/llms"
)

const (
	statusUnauthenticated  = "UNAUTHENTICATED"
	statusPermissionDenied = "PERMISSION_DENIED"
)

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseError turns a failure response into one of the shared fault kinds.
// Credential rejections surface as llms.ConfigurationError so callers can
// route them to reauthorization instead of retrying.
func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var wire apiError
	_ = json.Unmarshal(body, &wire)

	message := wire.Error.Message
	if message == "" {
		message = resp.Status
	}

	rejected := resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		wire.Error.Status == statusUnauthenticated ||
		wire.Error.Status == statusPermissionDenied
	if rejected {
		return &llms.ConfigurationError{
			Reason: "backend rejected the credential",
			Err:    errors.New(message),
		}
	}

	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, message)
}
