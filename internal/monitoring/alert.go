package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert raises an operator alert (logged for now). Used for setup errors that retries
// cannot fix, such as a provider with no usable configuration.
func Alert(message string, labels map[string]string) {
	log.Error().
		Str("alert", message).
		Fields(labels).
		Msg("ALERT: Guest access integration needs operator attention")
}
