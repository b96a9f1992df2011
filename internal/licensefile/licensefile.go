// Package licensefile defines the signed license artifact consumed by the
// license-verifier tool and produced by license-issuer.
//
// An artifact is a JSON document
//
//	{"data": {"machine_id": "...", "start_date": "01-01-2024", "end_date": "31-12-2024", "region": "Asia/Kolkata"},
//	 "signature": "<hex Ed25519 signature>"}
//
// The signature covers the exact bytes of the data member as they appear in
// the file, so re-encoding the document does not change what was signed.
package licensefile

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the dd-MM-yyyy date form used in artifacts.
const DateLayout = "02-01-2006"

// Verdict statuses.
const (
	StatusValid    = "valid"
	StatusInvalid  = "invalid"
	StatusInactive = "inactive"
	StatusExpired  = "expired"
)

// Data is the signed payload of an artifact.
type Data struct {
	MachineID string `json:"machine_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Region    string `json:"region"`
}

// Package is the on-disk artifact.
type Package struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// Verdict is printed by the verifier tool. Dates and region are null when
// the artifact could not be read or was tampered with.
type Verdict struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Region    *string `json:"region"`
}

// Sign serializes data and signs it with priv.
func Sign(priv ed25519.PrivateKey, data Data) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode license data: %w", err)
	}

	pkg := Package{
		Data:      payload,
		Signature: hex.EncodeToString(ed25519.Sign(priv, payload)),
	}
	// No indentation: MarshalIndent would reformat the signed data bytes.
	out, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encode license package: %w", err)
	}
	return append(out, '\n'), nil
}

// Verify checks artifact against the PEM encoded public key and evaluates
// its validity window at now. When machineID is not empty the artifact must
// name the same machine. Verify never fails: every problem is an invalid
// verdict.
func Verify(publicKeyPEM, artifact []byte, machineID string, now time.Time) Verdict {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return invalid(fmt.Sprintf("Error verifying license: %v", err))
	}

	var pkg Package
	if err := json.Unmarshal(artifact, &pkg); err != nil {
		return invalid(fmt.Sprintf("Error verifying license: %v", err))
	}

	sig, err := hex.DecodeString(pkg.Signature)
	if err != nil || len(pkg.Data) == 0 || !ed25519.Verify(pub, pkg.Data, sig) {
		return invalid("License file has been tampered!")
	}

	var data Data
	if err := json.Unmarshal(pkg.Data, &data); err != nil {
		return invalid(fmt.Sprintf("Error verifying license: %v", err))
	}

	verdict := Verdict{
		StartDate: strPtr(data.StartDate),
		EndDate:   strPtr(data.EndDate),
		Region:    strPtr(data.Region),
	}

	if machineID != "" && data.MachineID != machineID {
		verdict.Status = StatusInvalid
		verdict.Message = "License is not valid for this machine!"
		return verdict
	}

	loc, err := time.LoadLocation(data.Region)
	if err != nil {
		return invalid(fmt.Sprintf("Error verifying license: unknown region %q", data.Region))
	}
	start, err := time.ParseInLocation(DateLayout, data.StartDate, loc)
	if err != nil {
		return invalid(fmt.Sprintf("Error verifying license: %v", err))
	}
	end, err := time.ParseInLocation(DateLayout, data.EndDate, loc)
	if err != nil {
		return invalid(fmt.Sprintf("Error verifying license: %v", err))
	}
	end = end.Add(24*time.Hour - time.Second)

	local := now.In(loc)
	switch {
	case local.Before(start):
		verdict.Status = StatusInactive
		verdict.Message = fmt.Sprintf("License not active until %s!", data.StartDate)
	case local.After(end):
		verdict.Status = StatusExpired
		verdict.Message = fmt.Sprintf("License expired on %s!", data.EndDate)
	default:
		verdict.Status = StatusValid
		verdict.Message = fmt.Sprintf("License valid from %s to %s (%s)", data.StartDate, data.EndDate, data.Region)
	}
	return verdict
}

func invalid(msg string) Verdict {
	return Verdict{Status: StatusInvalid, Message: msg}
}

func strPtr(s string) *string {
	return &s
}

// EncodePublicKey returns pub as a PKIX PEM block.
func EncodePublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// EncodePrivateKey returns priv as a PKCS#8 PEM block.
func EncodePrivateKey(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePublicKey reads a PKIX PEM Ed25519 public key.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ed25519", key)
	}
	return pub, nil
}

// ParsePrivateKey reads a PKCS#8 PEM Ed25519 private key.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ed25519", key)
	}
	return priv, nil
}
