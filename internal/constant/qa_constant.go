package constant

const (
	// Watermill topic carrying saved-session notifications from the relay
	// finalize step to the consumer service.
	TopicQASessionSaved = "QA_SESSION_SAVED"

	// NATS JetStream subject mirrored for other services.
	SubjectQASessionSaved = "qa.session.saved"

	// Bounds applied during ask-request validation.
	DefaultTopK      = 5
	MaxTopK          = 50
	MaxToolRounds    = 10
	MaxQuestionBytes = 8 * 1024
)
