package judges

import (
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNameLength = 64

var (
	// ErrSessionExpired is terminal: the token is unknown, rotated, or the group window has closed.
	ErrSessionExpired = errors.New("judges: session expired")
	// ErrInvalidName indicates the name has no alphabetic characters left after normalization.
	ErrInvalidName = errors.New("judges: invalid name")
	// ErrJudgingNotOpen indicates registration before the group's window starts.
	ErrJudgingNotOpen = errors.New("judges: judging has not started")
	// ErrJudgingClosed indicates registration after the group's window ended.
	ErrJudgingClosed = errors.New("judges: judging has ended")
	// ErrJudgeNotFound indicates the judge id is unknown.
	ErrJudgeNotFound = errors.New("judges: judge not found")
)

// judgeNamespace scopes the name-derived judge identifiers.
var judgeNamespace = uuid.MustParse("5b0f6f0e-8a47-4f43-9c55-2f3ad1c4e9a1")

// Judge is a name-scoped participant identity within one judging group.
type Judge struct {
	JudgeID               string `gorm:"column:judge_id;primaryKey;size:190;not null"`
	GroupID               string `gorm:"column:group_id;size:190;not null;uniqueIndex:idx_judges_group_name,priority:1"`
	Name                  string `gorm:"column:name;size:64;not null;uniqueIndex:idx_judges_group_name,priority:2"`
	EnteredName           string `gorm:"column:entered_name;size:190;not null"`
	Email                 string `gorm:"column:email;size:320;not null;default:''"`
	SessionID             string `gorm:"column:session_id;size:190;not null"`
	LastActiveAtSeconds   int64  `gorm:"column:last_active_at_s;not null"`
	LastClientTimeSeconds int64  `gorm:"column:last_client_time_s;not null;default:0"`
	CreatedAtSeconds      int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Judge) TableName() string {
	return "judges"
}

// RegisterRequest carries a judge's registration form.
type RegisterRequest struct {
	GroupID  string
	Name     string
	Email    string
	Password string
}

// Registration is the result of Register.
type Registration struct {
	JudgeID      string
	GroupID      string
	Name         string
	SessionToken string
	Resumed      bool
}

var nameFolding = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName folds a display name into the lower-case ASCII-alphabetic form that keys judge identity.
// Diacritics are stripped first so "José" and "jose" resume the same judge.
func NormalizeName(raw string) string {
	folded, _, err := transform.String(nameFolding, raw)
	if err != nil {
		folded = raw
	}
	lowered := cases.Lower(language.Und).String(folded)

	var builder strings.Builder
	for _, r := range lowered {
		if r >= 'a' && r <= 'z' {
			builder.WriteRune(r)
		}
		if builder.Len() >= maxNameLength {
			break
		}
	}
	return builder.String()
}

// DeriveJudgeID returns the stable judge identifier for a normalized name within a group.
func DeriveJudgeID(groupID, normalizedName string) string {
	return uuid.NewSHA1(judgeNamespace, []byte(groupID+":"+normalizedName)).String()
}
