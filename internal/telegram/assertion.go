// Package telegram verifies login-widget assertions signed with a bot token.
package telegram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const hashField = "hash"

// Fields is an assertion exactly as received, keyed by field name. Every
// field except hash takes part in the signature.
type Fields map[string]string

// Assertion is the typed view of a verified field set.
type Assertion struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// IssuedAt returns auth_date as a time.
func (a Assertion) IssuedAt() time.Time {
	return time.Unix(a.AuthDate, 0).UTC()
}

// Fields renders the assertion the way the widget sends it: optional fields
// are omitted when empty.
func (a Assertion) Fields() Fields {
	f := Fields{
		"id":        strconv.FormatInt(a.ID, 10),
		"auth_date": strconv.FormatInt(a.AuthDate, 10),
	}
	set := func(key, value string) {
		if value != "" {
			f[key] = value
		}
	}
	set("first_name", a.FirstName)
	set("last_name", a.LastName)
	set("username", a.Username)
	set("photo_url", a.PhotoURL)
	set(hashField, a.Hash)
	return f
}

// FieldsFromValues takes the first value of each query parameter.
func FieldsFromValues(values url.Values) Fields {
	f := make(Fields, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			f[key] = vals[0]
		}
	}
	return f
}

// FieldsFromJSON decodes a flat JSON object. Numbers keep their literal
// text so the data-check string matches what the signer saw; nulls are dropped.
func FieldsFromJSON(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode assertion: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode assertion: not an object")
	}

	f := make(Fields, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			f[key] = v
		case json.Number:
			f[key] = v.String()
		case bool:
			f[key] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("decode assertion: field %q is not a scalar", key)
		}
	}
	return f, nil
}

// DataCheckString builds the canonical signing input: all fields except
// hash, sorted by name, rendered as name=value and joined by newlines.
func DataCheckString(f Fields) string {
	keys := make([]string, 0, len(f))
	for key := range f {
		if key != hashField {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(f[key])
	}
	return b.String()
}

func parseAssertion(f Fields) (Assertion, error) {
	id, err := strconv.ParseInt(f["id"], 10, 64)
	if err != nil || id <= 0 {
		return Assertion{}, fmt.Errorf("subject id %q", f["id"])
	}
	authDate, err := strconv.ParseInt(f["auth_date"], 10, 64)
	if err != nil {
		return Assertion{}, fmt.Errorf("auth_date %q", f["auth_date"])
	}
	return Assertion{
		ID:        id,
		FirstName: f["first_name"],
		LastName:  f["last_name"],
		Username:  f["username"],
		PhotoURL:  f["photo_url"],
		AuthDate:  authDate,
		Hash:      f[hashField],
	}, nil
}
