package events

import "strings"

// UnknownReason is used when a failure carries no reason at all.
const UnknownReason = "Unknown error"

var reasonMessages = map[string]string{
	"invalid_credentials":   "Invalid email or password",
	"validation_failed":     "Validation failed",
	"user_already_exists":   "User already exists with this email",
	"invalid_request":       "Invalid request",
	"authentication_failed": "Authentication failed",
	"unauthorized":          "Unauthorized",
	"member_not_found":      "Member not found",
	"forbidden":             "Forbidden",
	"invalid_otp":           "Invalid or expired code",
	"unknown":               UnknownReason,
}

// ReasonMessage maps an internal failure code to a human-readable message.
// Unrecognized input is assumed to already be human-readable and is returned
// trimmed.
func ReasonMessage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return UnknownReason
	}
	if m, ok := reasonMessages[code]; ok {
		return m
	}
	return code
}
