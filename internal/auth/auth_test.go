package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/podflix/internal/db"
	"github.com/suPer8Hu/podflix/internal/models"
)

func TestJWT_RoundTrip(t *testing.T) {
	tok, err := SignJWT(42, "admin", "s3cret", time.Hour)
	require.NoError(t, err)

	uid, ident, err := ParseJWT(tok, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), uid)
	assert.Equal(t, "admin", ident)

	_, _, err = ParseJWT(tok, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_RejectsExpiredAndForeignAlg(t *testing.T) {
	expired, err := SignJWT(1, "admin", "k", -time.Minute)
	require.NoError(t, err)
	_, _, err = ParseJWT(expired, "k")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = ParseJWT(none, "k")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCredentials_Verify(t *testing.T) {
	c, err := NewCredentials("admin", "admin")
	require.NoError(t, err)
	assert.NotEqual(t, "admin", c.hash)

	assert.True(t, c.Verify("admin", "admin"))
	assert.False(t, c.Verify("admin", "wrong"))
	assert.False(t, c.Verify("root", "admin"))
}

func TestCredentials_AuthenticateUpsertsUser(t *testing.T) {
	d, err := db.NewDescriptor(db.Options{Kind: db.KindSQLite, Path: filepath.Join(t.TempDir(), "auth.db")})
	require.NoError(t, err)
	require.NoError(t, db.NewManager(d).Initialize(context.Background()))
	gdb, err := db.Connect(d.AsyncConnectionString())
	require.NoError(t, err)
	defer db.Close(gdb)

	c, err := NewCredentials("admin", "pw")
	require.NoError(t, err)

	_, err = c.Authenticate(context.Background(), gdb, "admin", "nope")
	assert.ErrorIs(t, err, ErrBadCredentials)

	first, err := c.Authenticate(context.Background(), gdb, "admin", "pw")
	require.NoError(t, err)
	second, err := c.Authenticate(context.Background(), gdb, "admin", "pw")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.RoleAdmin, second.Role)

	var n int64
	require.NoError(t, gdb.Model(&models.User{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
