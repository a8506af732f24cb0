package session

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const authCookieName = "li_at"

type cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// validateCredential accepts a JSON cookie array, a non-empty JSON object,
// or a "name=value; ..." header carrying the auth cookie.
func validateCredential(credential []byte) error {
	trimmed := bytes.TrimSpace(credential)
	if len(trimmed) == 0 {
		return domain.NewValidationError("credential", "is required")
	}

	switch trimmed[0] {
	case '[':
		var cookies []cookie
		if err := json.Unmarshal(trimmed, &cookies); err != nil {
			return domain.NewValidationError("credential", "invalid cookie array")
		}
		if len(cookies) == 0 {
			return domain.NewValidationError("credential", "cookie array is empty")
		}
		for _, c := range cookies {
			if c.Name == "" {
				return domain.NewValidationError("credential", "cookie without name")
			}
		}
		return nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return domain.NewValidationError("credential", "invalid JSON object")
		}
		if len(obj) == 0 {
			return domain.NewValidationError("credential", "object is empty")
		}
		return nil
	}

	for _, part := range strings.Split(string(trimmed), ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name == authCookieName && value != "" {
			return nil
		}
	}
	return domain.NewValidationError("credential", "cookie header must contain "+authCookieName)
}
