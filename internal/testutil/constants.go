package testutil

// Test signing and encryption keys for use in tests only.
// 32 bytes for HMAC and secretbox key material.
const (
	TestEncryptionKey = "12345678901234567890123456789012"
	TestSigningKey    = "test-signing-key-1234567890123456"
)

// Canned model answers.
const (
	// AnswerWithCitation is a structured answer citing one transcript segment.
	AnswerWithCitation = "```json\n" +
		`{"result": {"themes": ["belonging"], "summary": "Speaker describes returning to country."},` +
		` "citations": [{"transcript_id": "transcript:123", "segment_index": 4, "text": "I came home to the river", "confidence": 0.92}]}` +
		"\n```"
	// AnswerUnstructured is plain prose with no JSON object.
	AnswerUnstructured = "The speaker talks about family and returning home."
)
