package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookflow/bookflow/pkg/apperr"
	"github.com/bookflow/bookflow/pkg/model"
)

type users map[uuid.UUID]*model.User

func (u users) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, apperr.ErrNotFound
}

func TestIssueAndValidate(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Hour)
	user := &model.User{ID: uuid.New(), Role: model.RoleEditor}

	token, err := m.Issue(user)
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, model.RoleEditor, claims.Role)

	_, err = NewTokenManager([]byte("other"), time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredAndForeignAlg(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := m.Issue(&model.User{ID: uuid.New(), Role: model.RoleAuthor})
	require.NoError(t, err)
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), Issuer: "bookflow"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolver(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Hour)
	known := &model.User{ID: uuid.New(), Role: model.RolePublisher, Name: "Pat"}
	r := NewResolver(m, users{known.ID: known})
	ctx := context.Background()

	token, err := m.Issue(known)
	require.NoError(t, err)
	got, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, known, got)

	_, err = r.Resolve(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = r.Resolve(ctx, "garbage")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	gone, err := m.Issue(&model.User{ID: uuid.New(), Role: model.RoleReader})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, gone)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
