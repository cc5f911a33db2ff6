// Package trustca manages a local ECDSA certificate authority so clients
// can trust the gateway on networks without public TLS.
package trustca

import (
	"crypto/ecdsa"
	"encoding/base64"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shellgate/shellgate/internal/database"
)

const (
	caCertSetting = "trust_ca_cert"
	caKeySetting  = "trust_ca_key"
)

var ensureMu sync.Mutex

// EnsureCA returns the persisted CA certificate PEM, generating and storing
// a new one on first use.
func EnsureCA() (certPEM string, err error) {
	ensureMu.Lock()
	defer ensureMu.Unlock()

	if cert, err := database.GetSetting(caCertSetting); err == nil && cert != "" {
		return cert, nil
	}

	cert, key, err := generateCA()
	if err != nil {
		return "", err
	}
	if err := database.SetSetting(caCertSetting, cert); err != nil {
		return "", fmt.Errorf("persist CA certificate: %w", err)
	}
	if err := database.SetSetting(caKeySetting, key); err != nil {
		return "", fmt.Errorf("persist CA key: %w", err)
	}
	return cert, nil
}

func generateCA() (certPEM, keyPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: "shellgate-local-ca",
		},
		NotBefore:             now,
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM, nil
}

// MobileConfig renders an unsigned iOS configuration profile carrying the
// CA certificate so Apple devices can install it in one tap.
func MobileConfig(host string) (string, error) {
	certPEM, err := EnsureCA()
	if err != nil {
		return "", err
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return "", fmt.Errorf("stored CA certificate is not valid PEM")
	}

	payload := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>PayloadContent</key>
	<array>
		<dict>
			<key>PayloadCertificateFileName</key>
			<string>%s-ca.crt</string>
			<key>PayloadContent</key>
			<data>%s</data>
			<key>PayloadDescription</key>
			<string>Adds the %s local CA certificate</string>
			<key>PayloadDisplayName</key>
			<string>%s Local CA</string>
			<key>PayloadIdentifier</key>
			<string>com.shellgate.ca.%s</string>
			<key>PayloadType</key>
			<string>com.apple.security.root</string>
			<key>PayloadUUID</key>
			<string>%s</string>
			<key>PayloadVersion</key>
			<integer>1</integer>
		</dict>
	</array>
	<key>PayloadDisplayName</key>
	<string>%s Trust Profile</string>
	<key>PayloadIdentifier</key>
	<string>com.shellgate.trust.%s</string>
	<key>PayloadRemovalDisallowed</key>
	<false/>
	<key>PayloadType</key>
	<string>Configuration</string>
	<key>PayloadUUID</key>
	<string>%s</string>
	<key>PayloadVersion</key>
	<integer>1</integer>
</dict>
</plist>
`,
		host,
		base64CertData(block.Bytes),
		host, host, host,
		uuid.New().String(),
		host, host,
		uuid.New().String(),
	)
	return payload, nil
}

func base64CertData(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}
