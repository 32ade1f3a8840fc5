package config

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateJournal(&c.Journal)...)
	errors = append(errors, validateSync(&c.Sync)...)
	errors = append(errors, validateBuffer(&c.Buffer)...)

	if c.Normalizer.SOLPriceUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "normalizer.sol_price_usd",
			Message: "must be non-negative",
		})
	}

	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateSweep(&c.Sweep)...)
	errors = append(errors, validateState(&c.State)...)
	errors = append(errors, validateHTTPServer(&c.HTTPServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateJournal(j *JournalConfig) []ValidationError {
	if j.Wallet == "" {
		return nil
	}
	if _, err := solana.PublicKeyFromBase58(j.Wallet); err != nil {
		return []ValidationError{{
			Field:   "journal.wallet",
			Message: "must be a base58 Solana address",
		}}
	}
	return nil
}

func validateSync(s *SyncConfig) []ValidationError {
	var errors []ValidationError

	if s.Interval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "sync.interval",
			Message: "must be at least 1 second",
		})
	}

	if s.PageLimit < 1 || s.PageLimit > 200 {
		errors = append(errors, ValidationError{
			Field:   "sync.page_limit",
			Message: fmt.Sprintf("must be between 1 and 200, got %d", s.PageLimit),
		})
	}

	if s.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.timeout",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateBuffer(b *BufferConfig) []ValidationError {
	var errors []ValidationError

	if b.TTL < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "buffer.ttl",
			Message: "must be at least 1 minute",
		})
	}

	if b.Cap < 1 {
		errors = append(errors, ValidationError{
			Field:   "buffer.cap",
			Message: "must be at least 1",
		})
	}

	if b.DefaultPageLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "buffer.default_page_limit",
			Message: "must be at least 1",
		})
	}

	if b.MaxPageLimit < b.DefaultPageLimit {
		errors = append(errors, ValidationError{
			Field:   "buffer.max_page_limit",
			Message: "must be at least buffer.default_page_limit",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	switch s.Driver {
	case StoreMemory:
		return nil
	case StoreSQLite, StorePostgres:
		if s.DSN == "" {
			return []ValidationError{{
				Field:   "store.dsn",
				Message: "required for driver " + s.Driver,
			}}
		}
		return nil
	default:
		return []ValidationError{{
			Field:   "store.driver",
			Message: fmt.Sprintf("must be one of memory, sqlite3, pgx; got %q", s.Driver),
		}}
	}
}

func validateSweep(s *SweepConfig) []ValidationError {
	if _, err := cron.ParseStandard(s.Schedule); err != nil {
		return []ValidationError{{
			Field:   "sweep.schedule",
			Message: err.Error(),
		}}
	}
	return nil
}

func validateState(s *StateConfig) []ValidationError {
	var errors []ValidationError

	if s.FileName == "" {
		errors = append(errors, ValidationError{
			Field:   "state.file_name",
			Message: "must not be empty",
		})
	}

	if s.SaveInterval < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "state.save_interval",
			Message: "must be at least 10 seconds",
		})
	}

	if s.MaxSizeBytes < 1024 {
		errors = append(errors, ValidationError{
			Field:   "state.max_size_bytes",
			Message: "must be at least 1KB",
		})
	}

	return errors
}

func validateHTTPServer(hs *HTTPServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Port < 1 || hs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "http_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}
