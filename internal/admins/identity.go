// Package admins records the administrators seen through identity-provider sessions.
package admins

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("admins: invalid identity")

const defaultProvider = "default"

// Identity maps a provider login to the administrator id used in audit fields.
type Identity struct {
	Provider          string `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject           string `gorm:"column:subject;primaryKey;size:190;not null"`
	AdminID           string `gorm:"column:admin_id;size:190;not null;index"`
	Email             string `gorm:"column:email;size:320;not null;default:''"`
	DisplayName       string `gorm:"column:display_name;size:320;not null;default:''"`
	LastSeenAtSeconds int64  `gorm:"column:last_seen_at_s;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing administrator identities.
func (Identity) TableName() string {
	return "admin_identities"
}

// LastSeenAt reports the most recent authenticated request.
func (i Identity) LastSeenAt() time.Time {
	return time.Unix(i.LastSeenAtSeconds, 0).UTC()
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// splitSubject derives the provider and subject from "provider:subject" user ids, falling back
// to the token subject and then the email.
func splitSubject(userID, subject, email string) (string, string) {
	provider := defaultProvider
	subject = normalize(subject)

	raw := normalize(userID)
	if raw != "" {
		if prefix, rest, found := strings.Cut(raw, ":"); found {
			if normalize(prefix) != "" && normalize(rest) != "" {
				provider = normalize(prefix)
				subject = normalize(rest)
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(email)
	}
	return provider, subject
}
