package settings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

func sampleOrgSettings() *model.OrganizationSettings {
	return &model.OrganizationSettings{
		LobbyPms:    &model.LobbyPmsSettings{APIKey: "lobby-key", SyncEnabled: true},
		DoorSystem:  &model.DoorSystemSettings{ClientID: "cid", ClientSecret: "csecret", Username: "user", Password: "5f4dcc3b5aa765d61d8327deb882cf99", LockIDs: []string{"111"}},
		BoldPayment: &model.BoldPaymentSettings{APIKey: "bold-key", MerchantID: "identity"},
		WhatsApp:    &model.WhatsAppSettings{APIKey: "wa-token", APISecret: "wa-secret", PhoneNumberID: "555"},
		Email:       &model.EmailSettings{SMTPHost: "smtp.example.com", SMTPUser: "mailer", SMTPPass: "smtp-pass", Imap: &model.ImapSettings{Password: "imap-pass"}},
	}
}

func TestCodec_EncryptOrganizationEncryptsEverySecret(t *testing.T) {
	codec := newTestCodec(t)
	doc := sampleOrgSettings()

	require.NoError(t, codec.EncryptOrganization(doc))

	for _, sec := range doc.Sections() {
		for _, f := range sec.SecretFields() {
			if *f.Value == "" {
				continue
			}
			assert.True(t, crypto.IsEncrypted(*f.Value), "%s.%s", sec.Kind(), f.Name)
		}
	}
	assert.Equal(t, "smtp.example.com", doc.Email.SMTPHost)
	assert.Equal(t, []string{"111"}, doc.DoorSystem.LockIDs)
}

func TestCodec_EncryptIsIdempotent(t *testing.T) {
	codec := newTestCodec(t)
	doc := sampleOrgSettings()
	require.NoError(t, codec.EncryptOrganization(doc))

	once, err := json.Marshal(doc)
	require.NoError(t, err)

	require.NoError(t, codec.EncryptOrganization(doc))
	twice, err := json.Marshal(doc)
	require.NoError(t, err)

	assert.JSONEq(t, string(once), string(twice))
}

func TestCodec_DecryptRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	doc := sampleOrgSettings()
	require.NoError(t, codec.EncryptOrganization(doc))

	failed := codec.DecryptOrganization(doc)

	assert.Empty(t, failed)
	assert.Equal(t, sampleOrgSettings(), doc)
}

func TestCodec_DecryptFailureKeepsFieldAndContinues(t *testing.T) {
	codec := newTestCodec(t)
	other, err := crypto.NewCipher("ff" + testKey[2:])
	require.NoError(t, err)

	foreign, err := other.Encrypt("foreign-secret")
	require.NoError(t, err)

	door := &model.DoorSystemSettings{
		ClientID:     mustEncrypt(t, codec, "cid"),
		ClientSecret: foreign,
		Username:     "legacy-user",
		Password:     mustEncrypt(t, codec, "hash"),
	}

	failed := codec.DecryptSection(door)

	assert.Equal(t, []string{"clientSecret"}, failed)
	assert.Equal(t, "cid", door.ClientID)
	assert.Equal(t, foreign, door.ClientSecret)
	assert.Equal(t, "legacy-user", door.Username)
	assert.Equal(t, "hash", door.Password)
}

func TestCodec_EmailNestedImapPassword(t *testing.T) {
	codec := newTestCodec(t)
	email := &model.EmailSettings{SMTPPass: "p1", Imap: &model.ImapSettings{Password: "p2"}}

	require.NoError(t, codec.EncryptSection(email))
	assert.True(t, crypto.IsEncrypted(email.Imap.Password))

	assert.Empty(t, codec.DecryptSection(email))
	assert.Equal(t, "p2", email.Imap.Password)
}

func TestDecodeBranchSection_FlatAndWrapped(t *testing.T) {
	flat := json.RawMessage(`{"apiKey":"k","merchantId":"m"}`)
	wrapped := json.RawMessage(`{"boldPayment":{"apiKey":"k","merchantId":"m"}}`)

	for name, raw := range map[string]json.RawMessage{"flat": flat, "wrapped": wrapped} {
		sec, err := DecodeBranchSection(model.ProviderBoldPayment, raw)
		require.NoError(t, err, name)
		assert.Equal(t, &model.BoldPaymentSettings{APIKey: "k", MerchantID: "m"}, sec, name)
	}
}

func TestDecodeBranchSection_Absent(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage("null")} {
		sec, err := DecodeBranchSection(model.ProviderDoorSystem, raw)
		require.NoError(t, err)
		assert.Nil(t, sec)
	}
}

func TestDecodeBranchSection_Malformed(t *testing.T) {
	_, err := DecodeBranchSection(model.ProviderDoorSystem, json.RawMessage(`"oops"`))
	assert.Error(t, err)
}
