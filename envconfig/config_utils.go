// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Zugangsdaten werden nicht im Klartext ausgegeben
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DDPM_DEBUG":            {"DDPM_DEBUG", LogLevel(), "Show additional debug information (e.g. DDPM_DEBUG=1)"},
		"DDPM_DEVICE":           {"DDPM_DEVICE", Device(), "Device to train and sample on (default: cpu)"},
		"DDPM_HOME":             {"DDPM_HOME", Home(), "Directory holding runs/, results/ and models/ (default: .)"},
		"DDPM_SEED":             {"DDPM_SEED", Seed(), "Seed for all noise sources, 0 seeds from the clock"},
		"DDPM_NUM_WORKERS":      {"DDPM_NUM_WORKERS", NumWorkers(), "Parallel image decoders when loading a dataset"},
		"DDPM_RUNLOG":           {"DDPM_RUNLOG", RunLog(), "Path of the run log database"},
		"DDPM_S3_ENDPOINT":      {"DDPM_S3_ENDPOINT", S3Endpoint(), "S3 endpoint override, e.g. for MinIO"},
		"DDPM_S3_REGION":        {"DDPM_S3_REGION", S3Region(), "S3 region"},
		"AWS_ACCESS_KEY_ID":     {"AWS_ACCESS_KEY_ID", redact(AccessKeyID()), "Static S3 access key"},
		"AWS_SECRET_ACCESS_KEY": {"AWS_SECRET_ACCESS_KEY", redact(SecretAccessKey()), "Static S3 secret key"},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
