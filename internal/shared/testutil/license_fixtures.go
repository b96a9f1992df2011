package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"staffsched/internal/licensefile"
)

// LicenseTestFixtures holds a throwaway signing key and produces license
// artifacts signed with it.
type LicenseTestFixtures struct {
	TestDataDir  string
	PublicKeyPEM []byte
	PrivateKey   ed25519.PrivateKey
}

// NewLicenseTestFixtures creates a fresh key pair under a temp directory
func NewLicenseTestFixtures(t *testing.T) *LicenseTestFixtures {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pubPEM, err := licensefile.EncodePublicKey(pub)
	require.NoError(t, err)

	return &LicenseTestFixtures{
		TestDataDir:  t.TempDir(),
		PublicKeyPEM: pubPEM,
		PrivateKey:   priv,
	}
}

// Artifact signs data with the fixture key
func (f *LicenseTestFixtures) Artifact(t *testing.T, data licensefile.Data) []byte {
	t.Helper()

	artifact, err := licensefile.Sign(f.PrivateKey, data)
	require.NoError(t, err)
	return artifact
}

// WindowArtifact signs an unbound license for the given window
func (f *LicenseTestFixtures) WindowArtifact(t *testing.T, startDate, endDate, region string) []byte {
	t.Helper()
	return f.Artifact(t, licensefile.Data{StartDate: startDate, EndDate: endDate, Region: region})
}

// CorruptedArtifact returns an artifact damaged in the named way:
// "tampered" edits the signed data, "signature" flips the signature,
// "truncated" cuts the file and "garbage" is not JSON at all.
func (f *LicenseTestFixtures) CorruptedArtifact(t *testing.T, kind string) []byte {
	t.Helper()

	artifact := f.WindowArtifact(t, "01-01-2024", "31-12-2024", "Asia/Kolkata")
	switch kind {
	case "tampered":
		return bytes.Replace(artifact, []byte("31-12-2024"), []byte("31-12-2099"), 1)
	case "signature":
		idx := bytes.Index(artifact, []byte(`"signature":"`)) + len(`"signature":"`)
		out := bytes.Clone(artifact)
		if out[idx] == 'a' {
			out[idx] = 'b'
		} else {
			out[idx] = 'a'
		}
		return out
	case "truncated":
		return artifact[:len(artifact)/2]
	default:
		return []byte("not a license")
	}
}

// OtherPublicKey returns a PEM public key that did not sign anything
func (f *LicenseTestFixtures) OtherPublicKey(t *testing.T) []byte {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pemBytes, err := licensefile.EncodePublicKey(pub)
	require.NoError(t, err)
	return pemBytes
}

// WriteFiles stores the public key and artifact in TestDataDir and returns
// their paths.
func (f *LicenseTestFixtures) WriteFiles(t *testing.T, artifact []byte) (keyPath, licensePath string) {
	t.Helper()

	keyPath = filepath.Join(f.TestDataDir, "public_key.pem")
	licensePath = filepath.Join(f.TestDataDir, "license.lic")
	require.NoError(t, os.WriteFile(keyPath, f.PublicKeyPEM, 0600))
	require.NoError(t, os.WriteFile(licensePath, artifact, 0600))
	return keyPath, licensePath
}
