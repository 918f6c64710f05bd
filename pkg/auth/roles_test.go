package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleOrder(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleEditor))
	assert.True(t, RoleAdmin.AtLeast(RoleViewer))
	assert.True(t, RoleEditor.AtLeast(RoleEditor))
	assert.False(t, RoleEditor.AtLeast(RoleAdmin))
	assert.False(t, RoleViewer.AtLeast(RoleEditor))
	assert.False(t, Role("root").AtLeast(RoleViewer))
	assert.False(t, Role("").Valid())
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{" Editor ", RoleEditor, false},
		{"VIEWER", RoleViewer, false},
		{"none", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleSets(t *testing.T) {
	tests := []struct {
		set  RoleSet
		role Role
		want bool
	}{
		{AnyRole, RoleViewer, true},
		{AnyRole, Role("guest"), false},
		{EditorOrAdmin, RoleEditor, true},
		{EditorOrAdmin, RoleViewer, false},
		{AdminOnly, RoleAdmin, true},
		{AdminOnly, RoleEditor, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.set.Allows(tt.role), "%s allows %s", tt.set, tt.role)
	}
	assert.Equal(t, "admin or editor", EditorOrAdmin.String())
}

func TestAuthorize(t *testing.T) {
	_, err := Authorize(context.Background(), AnyRole)
	assert.ErrorIs(t, err, ErrInvalidToken)

	ctx := WithClaims(context.Background(), &Claims{AccountID: "a", Role: RoleViewer})
	claims, err := Authorize(ctx, AnyRole)
	require.NoError(t, err)
	assert.Equal(t, "a", claims.AccountID)

	_, err = Authorize(ctx, EditorOrAdmin)
	assert.ErrorIs(t, err, ErrInsufficientRole)
	assert.Equal(t, "Access denied. Required role: admin or editor. Your role: viewer", err.Error())
}
