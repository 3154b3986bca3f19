// Package redaction masks credentials before they reach log output.
// Matrix access tokens, passwords and bearer headers are the main targets;
// room and user identifiers are left readable on purpose.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Config holds redaction configuration.
type Config struct {
	// Enabled controls whether redaction is active.
	Enabled bool `yaml:"enabled"`

	// RedactTokens redacts Matrix access tokens, bearer tokens and JWTs.
	RedactTokens bool `yaml:"redact_tokens"`

	// RedactPasswords redacts password assignments.
	RedactPasswords bool `yaml:"redact_passwords"`

	// CustomPatterns allows additional regex patterns to redact.
	CustomPatterns []string `yaml:"custom_patterns"`

	// Replacement is the string used to replace sensitive data.
	Replacement string `yaml:"replacement"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RedactTokens:    true,
		RedactPasswords: true,
		Replacement:     "[REDACTED]",
	}
}

// Redactor provides sensitive data redaction capabilities.
type Redactor struct {
	config          Config
	compiledCustom  []*regexp.Regexp
	compiledBuiltin map[string]*regexp.Regexp
	mu              sync.RWMutex
}

// NewRedactor creates a new Redactor with the given configuration.
// Custom patterns that fail to compile are skipped.
func NewRedactor(config Config) *Redactor {
	r := &Redactor{
		config:          config,
		compiledBuiltin: make(map[string]*regexp.Regexp),
	}

	r.compileBuiltinPatterns()

	for _, pattern := range config.CustomPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			r.compiledCustom = append(r.compiledCustom, re)
		}
	}

	return r
}

func (r *Redactor) compileBuiltinPatterns() {
	// syt_<base64 localpart>_<random>_<crc> as issued by Synapse.
	r.compiledBuiltin["matrix_token"] = regexp.MustCompile(`syt_[a-zA-Z0-9_\-]{10,}`)
	r.compiledBuiltin["bearer_token"] = regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9_\-\.]{16,})`)
	r.compiledBuiltin["auth_token"] = regexp.MustCompile(`(?i)(access[_-]?token|auth[_-]?token)\s*[=:]\s*['"]?([a-zA-Z0-9_\-\.]{16,})['"]?`)
	r.compiledBuiltin["jwt"] = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	r.compiledBuiltin["password"] = regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*['"]?([^'"\s]{4,})['"]?`)
}

// Redact applies all configured redaction rules to the input string.
func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.config.Enabled {
		return input
	}

	result := input
	if r.config.RedactTokens {
		result = r.redactPatterns(result, "matrix_token", "bearer_token", "auth_token", "jwt")
	}
	if r.config.RedactPasswords {
		result = r.redactPatterns(result, "password")
	}
	for _, re := range r.compiledCustom {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}
	return result
}

// redactPatterns replaces the captured groups of each pattern, or the whole
// match when the pattern has no groups.
func (r *Redactor) redactPatterns(input string, patternNames ...string) string {
	result := input
	for _, name := range patternNames {
		re, ok := r.compiledBuiltin[name]
		if !ok {
			continue
		}
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			submatches := re.FindStringSubmatch(match)
			if len(submatches) <= 1 {
				return r.config.Replacement
			}
			// Only the value (last group) is secret; keep the key name.
			secret := submatches[len(submatches)-1]
			if secret == "" {
				return match
			}
			return strings.Replace(match, secret, r.config.Replacement, 1)
		})
	}
	return result
}

// RedactFields returns a copy of fields with sensitive values replaced.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if r.isSensitiveKey(k) {
			out[k] = r.config.Replacement
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func (r *Redactor) isSensitiveKey(key string) bool {
	r.mu.RLock()
	enabled := r.config.Enabled
	r.mu.RUnlock()
	if !enabled {
		return false
	}

	lower := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "token", "credential"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// SetEnabled toggles redaction at runtime.
func (r *Redactor) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Enabled = enabled
}

var (
	globalMu       sync.RWMutex
	globalRedactor = NewRedactor(DefaultConfig())
)

// Redact redacts input with the global redactor.
func Redact(input string) string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRedactor.Redact(input)
}

// RedactFields redacts fields with the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRedactor.RedactFields(fields)
}

// SetGlobalConfig replaces the global redactor.
func SetGlobalConfig(config Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRedactor = NewRedactor(config)
}
