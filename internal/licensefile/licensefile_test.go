package licensefile

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeys(t *testing.T) (ed25519.PrivateKey, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubPEM, err := EncodePublicKey(pub)
	require.NoError(t, err)
	return priv, pubPEM
}

func sampleData() Data {
	return Data{
		MachineID: "host-1-aa:bb:cc:dd:ee:ff-Intel(R) Core(TM) i7",
		StartDate: "01-01-2024",
		EndDate:   "31-12-2024",
		Region:    "Asia/Kolkata",
	}
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestSignAndVerify(t *testing.T) {
	priv, pubPEM := newKeys(t)
	artifact, err := Sign(priv, sampleData())
	require.NoError(t, err)

	loc := kolkata(t)
	tests := []struct {
		name   string
		now    time.Time
		status string
	}{
		{"before start", time.Date(2023, 12, 31, 23, 59, 59, 0, loc), StatusInactive},
		{"first second", time.Date(2024, 1, 1, 0, 0, 0, 0, loc), StatusValid},
		{"mid window", time.Date(2024, 6, 15, 12, 0, 0, 0, loc), StatusValid},
		{"last second", time.Date(2024, 12, 31, 23, 59, 59, 0, loc), StatusValid},
		{"next day", time.Date(2025, 1, 1, 0, 0, 0, 0, loc), StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Verify(pubPEM, artifact, sampleData().MachineID, tt.now)
			assert.Equal(t, tt.status, v.Status, v.Message)
			require.NotNil(t, v.StartDate)
			assert.Equal(t, "01-01-2024", *v.StartDate)
			assert.Equal(t, "Asia/Kolkata", *v.Region)
		})
	}
}

func TestVerifyWithoutMachineBinding(t *testing.T) {
	priv, pubPEM := newKeys(t)
	artifact, err := Sign(priv, sampleData())
	require.NoError(t, err)

	v := Verify(pubPEM, artifact, "", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusValid, v.Status)
}

func TestVerifyMachineMismatch(t *testing.T) {
	priv, pubPEM := newKeys(t)
	artifact, err := Sign(priv, sampleData())
	require.NoError(t, err)

	v := Verify(pubPEM, artifact, "other-machine", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusInvalid, v.Status)
	assert.Contains(t, v.Message, "not valid for this machine")
}

func TestVerifyTampered(t *testing.T) {
	priv, pubPEM := newKeys(t)
	artifact, err := Sign(priv, sampleData())
	require.NoError(t, err)

	tampered := bytes.Replace(artifact, []byte("31-12-2024"), []byte("31-12-2099"), 1)
	v := Verify(pubPEM, tampered, "", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, StatusInvalid, v.Status)
	assert.Contains(t, v.Message, "tampered")
	assert.Nil(t, v.StartDate)
}

func TestVerifyWrongKey(t *testing.T) {
	priv, _ := newKeys(t)
	_, otherPub := newKeys(t)
	artifact, err := Sign(priv, sampleData())
	require.NoError(t, err)

	v := Verify(otherPub, artifact, "", time.Now())
	assert.Equal(t, StatusInvalid, v.Status)
}

func TestVerifyGarbageInputs(t *testing.T) {
	_, pubPEM := newKeys(t)

	assert.Equal(t, StatusInvalid, Verify([]byte("not pem"), []byte("{}"), "", time.Now()).Status)
	assert.Equal(t, StatusInvalid, Verify(pubPEM, []byte("not json"), "", time.Now()).Status)
	assert.Equal(t, StatusInvalid, Verify(pubPEM, []byte(`{"data":{},"signature":"zz"}`), "", time.Now()).Status)
}

func TestSignedBytesSurviveReencoding(t *testing.T) {
	priv, pubPEM := newKeys(t)
	artifact, err := Sign(priv, sampleData())
	require.NoError(t, err)

	var pkg Package
	require.NoError(t, json.Unmarshal(artifact, &pkg))
	reencoded, err := json.Marshal(pkg)
	require.NoError(t, err)

	v := Verify(pubPEM, reencoded, "", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusValid, v.Status)
}

func TestVerdictJSONUsesNullForUnknownDates(t *testing.T) {
	out, err := json.Marshal(Verify([]byte("x"), nil, "", time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"start_date":null`)
}

func TestKeyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privPEM, err := EncodePrivateKey(priv)
	require.NoError(t, err)
	parsedPriv, err := ParsePrivateKey(privPEM)
	require.NoError(t, err)
	assert.True(t, priv.Equal(parsedPriv))

	pubPEM, err := EncodePublicKey(pub)
	require.NoError(t, err)
	parsedPub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(parsedPub))

	_, err = ParsePublicKey(privPEM)
	assert.Error(t, err)
}

func TestSignRejectsBadKey(t *testing.T) {
	_, err := Sign(ed25519.PrivateKey("short"), sampleData())
	assert.Error(t, err)
}
