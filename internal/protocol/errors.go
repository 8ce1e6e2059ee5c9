package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest        = "E_BAD_REQUEST"
	ErrInvalidTarget     = "E_INVALID_TARGET"
	ErrInvalidTransition = "E_INVALID_TRANSITION"
	ErrCooldown          = "E_COOLDOWN"
	ErrInvalidLayer      = "E_INVALID_LAYER"
	ErrNoResource        = "E_NO_RESOURCE"
	ErrDebugDisabled     = "E_DEBUG_DISABLED"
	ErrQueueFull         = "E_QUEUE_FULL"
	ErrRateLimit         = "E_RATE_LIMIT"
	ErrInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBadRequest:        {},
	ErrInvalidTarget:     {},
	ErrInvalidTransition: {},
	ErrCooldown:          {},
	ErrInvalidLayer:      {},
	ErrNoResource:        {},
	ErrDebugDisabled:     {},
	ErrQueueFull:         {},
	ErrRateLimit:         {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
