package telegram

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const botToken = "123456:TEST-bot-token"

var fixedNow = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func signed(t *testing.T, a Assertion) Fields {
	t.Helper()
	f := a.Fields()
	f[hashField] = Sign(f, botToken)
	return f
}

func newTestVerifier() *Verifier {
	return NewVerifier(botToken, DefaultAuthWindow).WithNowFunc(func() time.Time { return fixedNow })
}

func TestDataCheckStringSortsAndSkipsHash(t *testing.T) {
	f := Fields{"username": "ali", "id": "123", "hash": "abc", "auth_date": "1700000000", "first_name": "Ali"}
	assert.Equal(t, "auth_date=1700000000\nfirst_name=Ali\nid=123\nusername=ali", DataCheckString(f))
}

func TestVerifyAcceptsFreshSignedAssertion(t *testing.T) {
	f := signed(t, Assertion{ID: 123, FirstName: "Ali", AuthDate: fixedNow.Add(-10 * time.Second).Unix()})

	a, err := newTestVerifier().Verify(f)
	require.NoError(t, err)
	assert.Equal(t, int64(123), a.ID)
	assert.Equal(t, "Ali", a.FirstName)
	assert.True(t, a.IssuedAt().Equal(fixedNow.Add(-10*time.Second)))
}

func TestVerifyIsOrderIndependent(t *testing.T) {
	f := signed(t, Assertion{ID: 7, FirstName: "Ali", LastName: "Valiev", Username: "ali_parts", PhotoURL: "https://t.me/i/userpic/320/ali.jpg", AuthDate: fixedNow.Unix()})

	query := url.Values{}
	for _, key := range []string{"photo_url", "hash", "username", "auth_date", "last_name", "id", "first_name"} {
		query.Set(key, f[key])
	}

	_, err := newTestVerifier().Verify(FieldsFromValues(query))
	require.NoError(t, err)

	fromJSON, err := FieldsFromJSON([]byte(`{"hash":"` + f["hash"] + `","auth_date":` + f["auth_date"] + `,"username":"ali_parts","id":7,"last_name":"Valiev","first_name":"Ali","photo_url":"https://t.me/i/userpic/320/ali.jpg"}`))
	require.NoError(t, err)
	_, err = newTestVerifier().Verify(fromJSON)
	require.NoError(t, err)
}

func TestVerifyRejectsAnySingleCharacterChange(t *testing.T) {
	original := signed(t, Assertion{ID: 123, FirstName: "Ali", Username: "ali", AuthDate: fixedNow.Unix()})
	verifier := newTestVerifier()

	for key, value := range original {
		for i := range value {
			tampered := Fields{}
			for k, v := range original {
				tampered[k] = v
			}
			b := []byte(value)
			if b[i] == 'x' {
				b[i] = 'y'
			} else {
				b[i] = 'x'
			}
			tampered[key] = string(b)

			_, err := verifier.Verify(tampered)
			assert.ErrorIs(t, err, ErrInvalidSignature, "field %s position %d", key, i)
		}
	}

	upper := Fields{}
	for k, v := range original {
		upper[k] = v
	}
	upper[hashField] = "A" + original[hashField][1:]
	if upper[hashField] != original[hashField] {
		_, err := verifier.Verify(upper)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}
}

func TestVerifyRejectsExtraOrMissingFields(t *testing.T) {
	verifier := newTestVerifier()
	f := signed(t, Assertion{ID: 123, FirstName: "Ali", AuthDate: fixedNow.Unix()})

	extra := Fields{"role": "admin"}
	for k, v := range f {
		extra[k] = v
	}
	_, err := verifier.Verify(extra)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	missing := Fields{}
	for k, v := range f {
		if k != "first_name" {
			missing[k] = v
		}
	}
	_, err = verifier.Verify(missing)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	noHash := Fields{}
	for k, v := range f {
		if k != hashField {
			noHash[k] = v
		}
	}
	_, err = verifier.Verify(noHash)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	f := Assertion{ID: 123, FirstName: "Ali", AuthDate: fixedNow.Unix()}.Fields()
	f[hashField] = Sign(f, "other-token")

	_, err := newTestVerifier().Verify(f)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyFreshnessWindow(t *testing.T) {
	verifier := newTestVerifier()

	edge := signed(t, Assertion{ID: 1, FirstName: "Ali", AuthDate: fixedNow.Add(-DefaultAuthWindow).Unix()})
	_, err := verifier.Verify(edge)
	assert.NoError(t, err)

	stale := signed(t, Assertion{ID: 1, FirstName: "Ali", AuthDate: fixedNow.Add(-DefaultAuthWindow - time.Second).Unix()})
	_, err = verifier.Verify(stale)
	assert.ErrorIs(t, err, ErrStaleAssertion)

	undated := Fields{"id": "1", "first_name": "Ali"}
	undated[hashField] = Sign(undated, botToken)
	_, err = verifier.Verify(undated)
	assert.ErrorIs(t, err, ErrStaleAssertion)
}

func TestVerifyRequiresSubjectID(t *testing.T) {
	f := Fields{"first_name": "Ali", "auth_date": strconv.FormatInt(fixedNow.Unix(), 10)}
	f[hashField] = Sign(f, botToken)

	_, err := newTestVerifier().Verify(f)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestFieldsFromJSON(t *testing.T) {
	f, err := FieldsFromJSON([]byte(`{"id": 123, "first_name": "Ali", "last_name": null, "auth_date": 1700000000, "hash": "ff"}`))
	require.NoError(t, err)
	assert.Equal(t, Fields{"id": "123", "first_name": "Ali", "auth_date": "1700000000", "hash": "ff"}, f)

	_, err = FieldsFromJSON([]byte(`{"id": {"nested": true}}`))
	assert.Error(t, err)

	_, err = FieldsFromJSON([]byte(`null`))
	assert.Error(t, err)

	_, err = FieldsFromJSON([]byte(`not json`))
	assert.Error(t, err)
}
