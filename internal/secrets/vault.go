package secrets

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// CredentialStore is the persistence needed by the vault.
// Satisfied by store.Store.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *schema.Credential) error
	GetCredential(ctx context.Context, id string) (*schema.Credential, error)
}

// Vault stores credentials encrypted at rest and decrypts them only at the
// point of use.
type Vault struct {
	store  CredentialStore
	cipher Cipher
}

// NewVault pairs a credential store with a cipher.
func NewVault(store CredentialStore, c Cipher) *Vault {
	return &Vault{store: store, cipher: c}
}

// Seal encrypts plaintext into cred.Value and persists the credential.
func (v *Vault) Seal(ctx context.Context, cred *schema.Credential, plaintext string) error {
	if plaintext == "" {
		return schema.NewError(schema.ErrCodeValidation, "credential value is empty")
	}
	sealed, err := v.cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return err
	}
	cred.Value = sealed
	return v.store.CreateCredential(ctx, cred)
}

// Reveal loads credential id and returns its decrypted value. When want is
// non-empty the credential must be of that type.
func (v *Vault) Reveal(ctx context.Context, id string, want schema.CredentialType) (string, error) {
	cred, err := v.store.GetCredential(ctx, id)
	if err != nil {
		return "", err
	}
	if want != "" && cred.Type != want {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"credential %q is of type %s, expected %s", id, cred.Type, want)
	}
	plain, err := v.cipher.Decrypt(cred.Value)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
