package config

import "fmt"

// ValidationError describes a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a loaded Config for values the core cannot operate with.
// It does not check that the TLS files actually exist on disk -- that is
// the surrounding daemon's job at startup, not a pure validation concern.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.NTSKE.ListenPort <= 0 || cfg.NTSKE.ListenPort > 65535 {
		errs = append(errs, ValidationError{"ntske.listen_port", "must be between 1 and 65535"})
	}
	if cfg.NTSKE.NTPPort <= 0 || cfg.NTSKE.NTPPort > 65535 {
		errs = append(errs, ValidationError{"ntske.ntp_port", "must be between 1 and 65535"})
	}
	if cfg.NTSKE.InstancePool <= 0 {
		errs = append(errs, ValidationError{"ntske.instance_pool", "must be positive"})
	}
	if cfg.NTSKE.CookiesPerReply <= 0 {
		errs = append(errs, ValidationError{"ntske.cookies_per_reply", "must be positive"})
	}
	if cfg.NTSKE.MaxClientCookies <= 0 {
		errs = append(errs, ValidationError{"ntske.max_client_cookies", "must be positive"})
	}
	if cfg.KeyRing.RotationPeriod <= 0 {
		errs = append(errs, ValidationError{"key_ring.rotation_period", "must be positive"})
	}

	return errs
}
