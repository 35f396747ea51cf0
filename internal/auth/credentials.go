package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/podflix/internal/models"
)

var ErrBadCredentials = errors.New("invalid username or password")

// Credentials checks logins against the single configured account. Only the
// bcrypt hash of the password is held after construction.
type Credentials struct {
	username string
	hash     string
}

func NewCredentials(username, password string) (*Credentials, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Credentials{username: username, hash: hash}, nil
}

func (c *Credentials) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	pwOK := CheckPassword(c.hash, password)
	return userOK && pwOK
}

// Authenticate verifies the login and upserts the matching users row.
func (c *Credentials) Authenticate(ctx context.Context, db *gorm.DB, username, password string) (*models.User, error) {
	if !c.Verify(username, password) {
		return nil, ErrBadCredentials
	}

	u := models.User{Identifier: username, Role: models.RoleAdmin, Provider: "credentials"}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(&u).Error
	if err != nil {
		return nil, err
	}

	var stored models.User
	if err := db.WithContext(ctx).Where("identifier = ?", username).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
