package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/stakechat/internal/errors"
)

// CheckActionAllowed blocks actions missing from a non-empty allowlist.
// Entries match case-insensitively; "unstake" also admits "unstake_all".
func CheckActionAllowed(allowlist []string, action string) error {
	if len(allowlist) == 0 {
		return nil
	}
	norm := normalize(action)
	for _, allowed := range allowlist {
		a := normalize(allowed)
		if a == norm || (a == "unstake" && norm == "unstake_all") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "action "+norm+" is disabled on this bot")
}

// Users maps a platform to the user ids allowed on it. A platform that is
// absent is closed; a platform with an empty list is open to everyone.
type Users map[string][]string

func (u Users) Check(platform, userID string) error {
	allowed, ok := u[normalize(platform)]
	if !ok {
		return clierr.New(clierr.CodeAuth, "platform "+platform+" is not enabled")
	}
	if len(allowed) == 0 {
		return nil
	}
	id := strings.TrimSpace(userID)
	for _, candidate := range allowed {
		if strings.TrimSpace(candidate) == id {
			return nil
		}
	}
	return clierr.New(clierr.CodeAuth, "unauthorized")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
