package handlers

import (
	"fmt"
	"net"
	"net/http"

	"github.com/shellgate/shellgate/internal/trustca"
)

func trustHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		host = "shellgate"
	}
	return host
}

// TrustCACert serves the local CA certificate for manual installation.
func TrustCACert(w http.ResponseWriter, r *http.Request) {
	certPEM, err := trustca.EnsureCA()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load CA certificate")
		return
	}

	w.Header().Set("Content-Type", "application/x-x509-ca-cert")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-ca.crt"`, trustHost(r)))
	w.Write([]byte(certPEM))
}

// TrustMobileConfig serves an iOS profile wrapping the CA certificate.
func TrustMobileConfig(w http.ResponseWriter, r *http.Request) {
	profile, err := trustca.MobileConfig(trustHost(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build profile")
		return
	}

	w.Header().Set("Content-Type", "application/x-apple-aspen-config")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-ca.mobileconfig"`, trustHost(r)))
	w.Write([]byte(profile))
}
