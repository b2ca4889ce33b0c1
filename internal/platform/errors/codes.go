// Package errors provides structured, coded error handling for the engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionEmptyCode              Code = "SESSION_EMPTY_CODE"
	CodeSessionEmptyParticipant       Code = "SESSION_EMPTY_PARTICIPANT"
	CodeSessionDisabled               Code = "SESSION_DISABLED"
	CodeSessionInvalidStatus          Code = "SESSION_INVALID_STATUS"
	CodeSessionAlreadyExists          Code = "SESSION_ALREADY_EXISTS"
	CodeSessionGenerationInProgress   Code = "SESSION_GENERATION_IN_PROGRESS"
	CodeSessionGenerationNotRequested Code = "SESSION_GENERATION_NOT_REQUESTED"
	CodeSessionNarrativeUnavailable   Code = "SESSION_NARRATIVE_UNAVAILABLE"

	// Event errors
	CodeEventEmptyTurnNumber  Code = "EVENT_EMPTY_TURN_NUMBER"
	CodeEventEmptyDeltaID     Code = "EVENT_EMPTY_DELTA_ID"
	CodeEventEmptyChatAuthor  Code = "EVENT_EMPTY_CHAT_AUTHOR"
	CodeEventEmptyChatMessage Code = "EVENT_EMPTY_CHAT_MESSAGE"
	CodeEventInvalidState     Code = "EVENT_INVALID_ENTITY_STATE"

	// Rulebook errors
	CodeRuleEmptyTitle  Code = "RULE_EMPTY_TITLE"
	CodeRuleInvalidID   Code = "RULE_INVALID_ID"
	CodeRuleEmptyCorpus Code = "RULE_EMPTY_CORPUS"

	// Generation errors
	CodeGenerationUnavailable Code = "GENERATION_UNAVAILABLE"
	CodeGenerationBadResponse Code = "GENERATION_BAD_RESPONSE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
