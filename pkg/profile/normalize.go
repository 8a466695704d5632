package profile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldsync/pkg/domain"
)

// Normalize maps a stored profile document onto domain.Profile, accepting
// the field spellings older clients wrote.
func Normalize(uid string, raw map[string]any) domain.Profile {
	p := domain.Profile{
		ID:           firstString(raw, "id", "uid"),
		Email:        firstString(raw, "email"),
		Phone:        firstString(raw, "phone", "phone_number", "phoneNumber"),
		ProfileImage: firstString(raw, "profile_image", "photo_url", "photoURL", "profileImage"),
		CreatedAt:    parseTime(firstValue(raw, "created_at", "createdAt")),
	}
	if p.ID == "" {
		p.ID = uid
	}
	p.Name = DisplayName(firstString(raw, "name", "full_name", "fullName"), firstString(raw, "display_name", "displayName"), p.Email)
	switch domain.AccountType(strings.ToLower(firstString(raw, "account_type", "accountType", "role"))) {
	case domain.AccountAdmin:
		p.AccountType = domain.AccountAdmin
	default:
		p.AccountType = domain.AccountUser
	}
	return p
}

func firstValue(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// parseTime accepts RFC 3339 strings and epoch milliseconds.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed.UTC()
			}
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	}
	return time.Time{}
}
