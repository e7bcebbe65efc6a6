package testutil

// Test signing key for use in tests only. 33 raw bytes of HMAC key material.
const TestSigningKey = "test-signing-key-1234567890123456"

// Test API keys for server and CLI tests.
const (
	TestAPIKey      = "test-api-key-0001"
	TestOtherAPIKey = "test-api-key-0002"
)
