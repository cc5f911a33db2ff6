package auth

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/shellgate/shellgate/internal/database"
)

// The gateway serves a single host account; every registered passkey belongs
// to it. The fixed user handle keeps discoverable credentials stable across
// restarts.
var accountHandle = []byte("shellgate-operator")

const challengeTTL = 2 * time.Minute

// Config carries the gate's construction parameters.
type Config struct {
	RPID        string
	RPOrigins   []string
	DisplayName string
	SessionTTL  time.Duration
}

// Gate owns all authentication state. All mutation of the credential table
// goes through its methods; the signature-counter read-modify-write in
// FinishLogin is serialized by loginMu.
type Gate struct {
	webAuthn *webauthn.WebAuthn
	ttl      time.Duration

	loginMu sync.Mutex

	challengeMu sync.Mutex
	challenges  map[string]challengeEntry // keyed by ceremony ("register", "login")
}

type challengeEntry struct {
	SessionData *webauthn.SessionData
	SetupToken  string // setup-token ID consumed on successful registration
	ExpiresAt   time.Time
}

// New builds the gate. A nil error does not imply any credential exists yet;
// enrollment happens through setup tokens or an authenticated session.
func New(cfg Config) (*Gate, error) {
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Shellgate"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.DisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn init: %w", err)
	}
	return &Gate{
		webAuthn:   wa,
		ttl:        cfg.SessionTTL,
		challenges: make(map[string]challengeEntry),
	}, nil
}

func (g *Gate) storeChallenge(ceremony string, sd *webauthn.SessionData, setupToken string) {
	g.challengeMu.Lock()
	g.challenges[ceremony] = challengeEntry{
		SessionData: sd,
		SetupToken:  setupToken,
		ExpiresAt:   time.Now().Add(challengeTTL),
	}
	g.challengeMu.Unlock()
}

func (g *Gate) takeChallenge(ceremony string) (challengeEntry, bool) {
	g.challengeMu.Lock()
	defer g.challengeMu.Unlock()
	entry, ok := g.challenges[ceremony]
	delete(g.challenges, ceremony)
	if !ok || time.Now().After(entry.ExpiresAt) {
		return challengeEntry{}, false
	}
	return entry, true
}

func (g *Gate) expireChallenges() {
	now := time.Now()
	g.challengeMu.Lock()
	for k, entry := range g.challenges {
		if now.After(entry.ExpiresAt) {
			delete(g.challenges, k)
		}
	}
	g.challengeMu.Unlock()
}

// account adapts the credential table to the webauthn.User interface.
type account struct {
	creds []webauthn.Credential
}

func loadAccount() (*account, error) {
	dbCreds, err := database.GetCredentials()
	if err != nil {
		return nil, err
	}
	creds := make([]webauthn.Credential, 0, len(dbCreds))
	for _, dc := range dbCreds {
		var transports []protocol.AuthenticatorTransport
		if dc.Transport != "" {
			for _, t := range strings.Split(dc.Transport, ",") {
				transports = append(transports, protocol.AuthenticatorTransport(t))
			}
		}
		creds = append(creds, webauthn.Credential{
			ID:              []byte(dc.ID),
			PublicKey:       dc.PublicKey,
			AttestationType: dc.AttestationType,
			Transport:       transports,
			Authenticator: webauthn.Authenticator{
				SignCount: dc.SignCount,
				AAGUID:    dc.AAGUID,
			},
		})
	}
	return &account{creds: creds}, nil
}

func (a *account) WebAuthnID() []byte                         { return accountHandle }
func (a *account) WebAuthnName() string                       { return "operator" }
func (a *account) WebAuthnDisplayName() string                { return "operator" }
func (a *account) WebAuthnCredentials() []webauthn.Credential { return a.creds }

// BeginRegistration starts a passkey enrollment ceremony. setupTokenID is
// non-empty when the enrollment was authorized by a one-time setup link; it
// is consumed when FinishRegistration succeeds.
func (g *Gate) BeginRegistration(setupTokenID string) (*protocol.CredentialCreation, error) {
	acct, err := loadAccount()
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	options, session, err := g.webAuthn.BeginRegistration(acct,
		func(cco *protocol.PublicKeyCredentialCreationOptions) {
			cco.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementPreferred
			cco.AuthenticatorSelection.UserVerification = protocol.VerificationPreferred
		},
	)
	if err != nil {
		return nil, err
	}
	g.storeChallenge("register", session, setupTokenID)
	return options, nil
}

// FinishRegistration verifies the attestation, persists the new credential
// and consumes the initiating setup token if there was one.
func (g *Gate) FinishRegistration(r *http.Request, label string) (*database.Credential, error) {
	entry, ok := g.takeChallenge("register")
	if !ok {
		return nil, fmt.Errorf("no pending registration challenge")
	}
	acct, err := loadAccount()
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	cred, err := g.webAuthn.FinishRegistration(acct, *entry.SessionData, r)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	var transports []string
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	if label == "" {
		label = fmt.Sprintf("Passkey %s", time.Now().Format("2006-01-02"))
	}

	dbCred := &database.Credential{
		ID:              string(cred.ID),
		Label:           label,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transport:       strings.Join(transports, ","),
		SignCount:       cred.Authenticator.SignCount,
		AAGUID:          cred.Authenticator.AAGUID,
		UserAgent:       r.UserAgent(),
		LastUsedAt:      time.Now(),
	}
	if err := database.SaveCredential(dbCred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	if entry.SetupToken != "" {
		id := dbCred.ID
		database.DB.Model(&database.SetupToken{}).
			Where("id = ?", entry.SetupToken).
			Update("credential_id", &id)
		database.DeleteSetupToken(entry.SetupToken)
	}

	return dbCred, nil
}

// BeginLogin starts a discoverable login ceremony.
func (g *Gate) BeginLogin() (*protocol.CredentialAssertion, error) {
	options, session, err := g.webAuthn.BeginDiscoverableLogin(
		func(opts *protocol.PublicKeyCredentialRequestOptions) {
			opts.UserVerification = protocol.VerificationPreferred
		},
	)
	if err != nil {
		return nil, err
	}
	g.storeChallenge("login", session, "")
	return options, nil
}

// FinishLogin verifies the assertion and enforces the signature-counter
// invariant: the presented counter must be strictly greater than the stored
// one, unless both are zero: counter-less authenticators report 0 forever.
// On success the counter advances and a fresh auth session is minted.
func (g *Gate) FinishLogin(r *http.Request) (*database.AuthSession, error) {
	entry, ok := g.takeChallenge("login")
	if !ok {
		return nil, fmt.Errorf("no pending login challenge")
	}

	// Serializes the counter read-modify-write across concurrent logins
	// with the same credential.
	g.loginMu.Lock()
	defer g.loginMu.Unlock()

	cred, err := g.webAuthn.FinishDiscoverableLogin(
		func(rawID, userHandle []byte) (webauthn.User, error) {
			return loadAccount()
		},
		*entry.SessionData,
		r,
	)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	stored, err := database.GetCredential(string(cred.ID))
	if err != nil {
		return nil, fmt.Errorf("credential not found")
	}

	newCount := cred.Authenticator.SignCount
	if newCount <= stored.SignCount && !(newCount == 0 && stored.SignCount == 0) {
		return nil, ErrReplayOrClone
	}

	if err := database.UpdateCredentialUse(stored.ID, newCount); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}

	return g.CreateSession(stored.ID)
}

// VerifyCounter applies the signature-counter rule outside a full ceremony.
// Exposed for the SSH front end and tests.
func (g *Gate) VerifyCounter(credentialID string, presented uint32) error {
	g.loginMu.Lock()
	defer g.loginMu.Unlock()

	stored, err := database.GetCredential(credentialID)
	if err != nil {
		return fmt.Errorf("credential not found")
	}
	if presented <= stored.SignCount && !(presented == 0 && stored.SignCount == 0) {
		return ErrReplayOrClone
	}
	return database.UpdateCredentialUse(credentialID, presented)
}
