package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/orneryd/storefront/pkg/audit"
)

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// NewAccount is the input for CreateAccount.
type NewAccount struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	// IsActive defaults to true when nil.
	IsActive *bool `json:"isActive,omitempty"`
}

// AccountUpdate lists the fields to change. Nil fields are left alone.
type AccountUpdate struct {
	Name     *string `json:"name,omitempty"`
	Role     *Role   `json:"role,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (a *Authenticator) validatePassword(plain string) error {
	if len(plain) < a.config.MinPasswordLength {
		return fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, a.config.MinPasswordLength)
	}
	if len(plain) > maxPasswordBytes {
		return fmt.Errorf("%w: maximum %d bytes", ErrWeakPassword, maxPasswordBytes)
	}
	return nil
}

// CreateAccount validates and stores a new password account. Role defaults
// to viewer.
func (a *Authenticator) CreateAccount(ctx context.Context, in NewAccount, meta RequestMeta) (*Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	email := NormalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	role := in.Role
	if role == "" {
		role = RoleViewer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}
	if err := a.validatePassword(in.Password); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	acct := &Account{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  in.IsActive == nil || *in.IsActive,
		Provider:  ProviderPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := acct.SetPassword(in.Password, a.config.BcryptCost); err != nil {
		return nil, err
	}
	if err := a.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	a.record(ctx, audit.ActionAccountCreated, audit.StatusSuccess, email, meta, actorReason(meta, "role "+string(role)))
	return acct, nil
}

// UpdateAccount applies upd to the account. Setting IsActive to false is how
// accounts are deactivated; they are never deleted.
func (a *Authenticator) UpdateAccount(ctx context.Context, id string, upd AccountUpdate, meta RequestMeta) (*Account, error) {
	acct, err := a.store.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes []string
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		if name != acct.Name {
			acct.Name = name
			changes = append(changes, "name")
		}
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, *upd.Role)
		}
		if *upd.Role != acct.Role {
			changes = append(changes, fmt.Sprintf("role %s->%s", acct.Role, *upd.Role))
			acct.Role = *upd.Role
		}
	}
	if upd.IsActive != nil && *upd.IsActive != acct.IsActive {
		acct.IsActive = *upd.IsActive
		if acct.IsActive {
			changes = append(changes, "activated")
		} else {
			changes = append(changes, "deactivated")
		}
	}
	if upd.Password != nil {
		if err := a.validatePassword(*upd.Password); err != nil {
			return nil, err
		}
		changed, err := acct.SetPassword(*upd.Password, a.config.BcryptCost)
		if err != nil {
			return nil, err
		}
		if changed {
			changes = append(changes, "password")
		}
	}

	if len(changes) == 0 {
		return acct, nil
	}
	acct.UpdatedAt = a.now().UTC()
	if err := a.store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}

	a.record(ctx, audit.ActionAccountUpdated, audit.StatusSuccess, acct.Email, meta, actorReason(meta, strings.Join(changes, ", ")))
	return acct, nil
}

// UnlockAccount clears an account's lock and failure counter.
func (a *Authenticator) UnlockAccount(ctx context.Context, id string, meta RequestMeta) (*Account, error) {
	acct, err := a.store.ResetLockout(ctx, id, a.now().UTC())
	if err != nil {
		return nil, err
	}
	a.record(ctx, audit.ActionAccountUnlocked, audit.StatusSuccess, acct.Email, meta, actorReason(meta, ""))
	return acct, nil
}

// ChangePassword replaces the caller's own password after checking the
// current one.
func (a *Authenticator) ChangePassword(ctx context.Context, id, current, next string, meta RequestMeta) error {
	acct, err := a.store.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}
	if !CheckPassword(current, acct.PasswordHash) {
		a.record(ctx, audit.ActionPasswordChanged, audit.StatusFailed, acct.Email, meta, "current password mismatch")
		return &CredentialsError{AttemptsRemaining: -1}
	}
	if err := a.validatePassword(next); err != nil {
		return err
	}
	if _, err := acct.SetPassword(next, a.config.BcryptCost); err != nil {
		return err
	}
	acct.UpdatedAt = a.now().UTC()
	if err := a.store.UpdateAccount(ctx, acct); err != nil {
		return err
	}
	a.record(ctx, audit.ActionPasswordChanged, audit.StatusSuccess, acct.Email, meta, "")
	return nil
}

// GetAccount returns an account by ID.
func (a *Authenticator) GetAccount(ctx context.Context, id string) (*Account, error) {
	return a.store.GetAccountByID(ctx, id)
}

// ListAccounts returns every account.
func (a *Authenticator) ListAccounts(ctx context.Context) ([]*Account, error) {
	return a.store.ListAccounts(ctx)
}

func actorReason(meta RequestMeta, detail string) string {
	switch {
	case meta.Actor == "":
		return detail
	case detail == "":
		return "by " + meta.Actor
	default:
		return detail + " by " + meta.Actor
	}
}
