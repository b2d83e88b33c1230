package types

// SecretString holds a credential -- the record-store service key, the Stripe
// API key, the webhook signing secret -- in a form that cannot leak through
// fmt verbs or JSON encoding. Both surfaces render a fixed placeholder; only
// Unmask returns the plaintext.
//
// Every call site of Unmask is a place a secret crosses into an outbound
// request (Authorization header, HMAC key). Keep it that way.
type SecretString string

const secretPlaceholder = "***REDACTED***"

// String satisfies fmt.Stringer with the placeholder, so a SecretString
// passed to a log call or %v/%s verb never prints the credential.
func (s SecretString) String() string {
	return secretPlaceholder
}

// MarshalJSON encodes the placeholder, covering config dumps and structured
// log handlers that serialize attribute values as JSON.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + secretPlaceholder + `"`), nil
}

// Unmask returns the plaintext credential.
func (s SecretString) Unmask() string {
	return string(s)
}
