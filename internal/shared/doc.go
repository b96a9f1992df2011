// Package shared holds code used across packages that belongs to no single
// layer.
//
// The testutil subpackage provides:
//
//	- BufferedSlogHandler for asserting on structured log output
//	- LicenseTestFixtures, a throwaway Ed25519 key pair that signs license
//	  artifacts for verifier, engine and command tests
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    fixtures := testutil.NewLicenseTestFixtures(t)
//	    keyPath, licPath := fixtures.WriteFiles(t, fixtures.WindowArtifact(t, "01-01-2024", "31-12-2024", "Asia/Kolkata"))
//	    ...
//	}
package shared
