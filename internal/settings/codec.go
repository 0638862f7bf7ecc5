package settings

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

// Codec encrypts and decrypts the secret-bearing fields of settings documents in place.
type Codec struct {
	cipher *crypto.Cipher
	logger zerolog.Logger
}

// NewCodec returns a codec that encrypts and decrypts secret fields with cipher.
func NewCodec(cipher *crypto.Cipher, logger zerolog.Logger) *Codec {
	return &Codec{cipher: cipher, logger: logger.With().Str("component", "settings_codec").Logger()}
}

// EncryptSection encrypts every secret field of sec. Values that already carry the token
// delimiter are left byte-identical, so repeated calls are no-ops.
func (c *Codec) EncryptSection(sec model.Section) error {
	for _, f := range sec.SecretFields() {
		if *f.Value == "" || crypto.IsEncrypted(*f.Value) {
			continue
		}
		token, err := c.cipher.Encrypt(*f.Value)
		if err != nil {
			return fmt.Errorf("encrypt %s.%s: %w", sec.Kind(), f.Name, err)
		}
		*f.Value = token
	}
	return nil
}

// DecryptSection decrypts every secret field of sec and returns the names of the fields
// that could not be decrypted. Those fields keep their stored value.
func (c *Codec) DecryptSection(sec model.Section) []string {
	var failed []string
	for _, f := range sec.SecretFields() {
		if *f.Value == "" {
			continue
		}
		plain, err := c.cipher.Decrypt(*f.Value)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("provider", string(sec.Kind())).
				Str("field", f.Name).
				Msg("Failed to decrypt settings field, keeping stored value")
			failed = append(failed, f.Name)
			continue
		}
		*f.Value = plain
	}
	return failed
}

// EncryptOrganization encrypts every configured section of a tenant document.
func (c *Codec) EncryptOrganization(s *model.OrganizationSettings) error {
	for _, sec := range s.Sections() {
		if err := c.EncryptSection(sec); err != nil {
			return err
		}
	}
	return nil
}

// DecryptOrganization decrypts every configured section of a tenant document. Failures
// are reported per provider and never abort the walk.
func (c *Codec) DecryptOrganization(s *model.OrganizationSettings) map[model.ProviderKind][]string {
	failed := make(map[model.ProviderKind][]string)
	for _, sec := range s.Sections() {
		if f := c.DecryptSection(sec); len(f) > 0 {
			failed[sec.Kind()] = f
		}
	}
	return failed
}

// DecodeBranchSection maps a stored branch column onto the provider's section type.
// Branch documents are normally flat; older writers wrapped the fields under the provider
// key, which is unwrapped here. A nil raw document yields a nil section.
func DecodeBranchSection(kind model.ProviderKind, raw json.RawMessage) (model.Section, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	sec := model.NewSection(kind)
	if sec == nil {
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode %s branch settings: %w", kind, err)
	}
	if inner, ok := probe[string(kind)]; ok && len(inner) > 0 && inner[0] == '{' {
		raw = inner
	}

	if err := json.Unmarshal(raw, sec); err != nil {
		return nil, fmt.Errorf("decode %s branch settings: %w", kind, err)
	}
	return sec, nil
}

// EncodeBranchSection renders sec in the flat branch shape.
func EncodeBranchSection(sec model.Section) (json.RawMessage, error) {
	b, err := json.Marshal(sec)
	if err != nil {
		return nil, fmt.Errorf("encode %s branch settings: %w", sec.Kind(), err)
	}
	return b, nil
}

// DecryptValue decrypts a single stored value. Legacy plaintext is returned unchanged.
func (c *Codec) DecryptValue(v string) (string, error) {
	return c.cipher.Decrypt(v)
}
