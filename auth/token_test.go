package auth

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

func sign(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	raw, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return raw
}

func TestParseUserToken(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)

	tests := []struct {
		name    string
		claims  gojwt.MapClaims
		wantErr bool
		wantExp time.Time
	}{
		{"valid", gojwt.MapClaims{"user_id": "alice", "exp": exp.Unix()}, false, exp},
		{"no expiry", gojwt.MapClaims{"user_id": "alice"}, false, time.Time{}},
		{"expired", gojwt.MapClaims{"user_id": "alice", "exp": now.Add(-time.Minute).Unix()}, true, time.Time{}},
		{"missing user", gojwt.MapClaims{"exp": exp.Unix()}, true, time.Time{}},
		{"non string user", gojwt.MapClaims{"user_id": 42}, true, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sign(t, tt.claims)
			got, err := parseAt(raw, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailure))
				assert.False(t, errors.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", got.UserID)
			assert.Equal(t, raw, got.Raw)
			assert.True(t, tt.wantExp.Equal(got.ExpiresAt))
		})
	}
}

func TestParseUserToken_Malformed(t *testing.T) {
	_, err := ParseUserToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalid, errors.KindOf(err))
}

func TestUserToken_Expired(t *testing.T) {
	now := time.Now()
	assert.False(t, UserToken{}.Expired(now))
	assert.True(t, UserToken{ExpiresAt: now}.Expired(now))
	assert.False(t, UserToken{ExpiresAt: now.Add(time.Second)}.Expired(now))
}
