package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so wrapped variants of a
// sentinel still match errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// Detail returns a copy of a sentinel with extra context appended to its message.
func Detail(base *EngineError, format string, args ...any) *EngineError {
	return &EngineError{Code: base.Code, Message: base.Message + ": " + fmt.Sprintf(format, args...)}
}

// ---- Validation errors (-32010 to -32039) ----

var (
	ErrInvalidTransition   = &EngineError{Code: -32010, Message: "invalid status transition"}
	ErrInvalidDifficulty   = &EngineError{Code: -32011, Message: "invalid difficulty"}
	ErrInvalidClass        = &EngineError{Code: -32012, Message: "invalid player class"}
	ErrWrongPhase          = &EngineError{Code: -32014, Message: "action not allowed in current duel phase"}
	ErrTaskNotEligible     = &EngineError{Code: -32015, Message: "task is not eligible"}
	ErrSelectionFull       = &EngineError{Code: -32016, Message: "selection slots are full"}
	ErrSelectionIncomplete = &EngineError{Code: -32017, Message: "not enough tasks selected to lock"}
	ErrSelectionLocked     = &EngineError{Code: -32018, Message: "selection is locked"}
	ErrNotParticipant      = &EngineError{Code: -32019, Message: "player is not a participant"}
	ErrSelfChallenge       = &EngineError{Code: -32020, Message: "cannot challenge yourself"}
	ErrTaskDuelBound       = &EngineError{Code: -32021, Message: "task is bound to an active duel; submit evidence instead"}
	ErrAlreadyMember       = &EngineError{Code: -32022, Message: "player is already in an active raid"}
	ErrInvalidInput        = &EngineError{Code: -32023, Message: "invalid input"}
	ErrAlreadyContested    = &EngineError{Code: -32024, Message: "selection is already contested"}
	ErrAlreadyInDuel       = &EngineError{Code: -32025, Message: "player already has an open duel"}
)

// ---- Lookup / concurrency errors (-32040 to -32069) ----

var (
	ErrPlayerNotFound    = &EngineError{Code: -32040, Message: "player not found"}
	ErrTaskNotFound      = &EngineError{Code: -32041, Message: "task not found"}
	ErrRaidNotFound      = &EngineError{Code: -32042, Message: "raid not found"}
	ErrDuelNotFound      = &EngineError{Code: -32043, Message: "duel not found"}
	ErrMemberNotFound    = &EngineError{Code: -32044, Message: "raid membership not found"}
	ErrSelectionNotFound = &EngineError{Code: -32045, Message: "duel selection not found"}
	ErrOptimisticLock    = &EngineError{Code: -32046, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrDuplicate         = &EngineError{Code: -32047, Message: "record already exists"}
	ErrCheckInProgress   = &EngineError{Code: -32048, Message: "check already in progress"}
)

// ---- Terminal state errors (-32070 to -32099) ----

var (
	ErrRaidClosed   = &EngineError{Code: -32070, Message: "raid is no longer active"}
	ErrDuelClosed   = &EngineError{Code: -32071, Message: "duel is already finished"}
	ErrTaskFinished = &EngineError{Code: -32072, Message: "task is already finished"}
)

// ---- External dependency errors (-32100 to -32129) ----

var (
	ErrEvidenceRejected  = &EngineError{Code: -32100, Message: "evidence rejected"}
	ErrJudgeUnavailable  = &EngineError{Code: -32101, Message: "evidence judge unavailable"}
	ErrJudgeBadResponse  = &EngineError{Code: -32102, Message: "evidence judge returned invalid response"}
	ErrRateLimitExceeded = &EngineError{Code: -32103, Message: "rate limit exceeded"}
	ErrEvidenceStore     = &EngineError{Code: -32104, Message: "evidence storage failed"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
)
