// config_features.go - Seed und Objektspeicher-Konfiguration
//
// Dieses Modul enthaelt:
// - Seed fuer reproduzierbares Rauschen
// - S3-Endpunkt, Region und Zugangsdaten
package envconfig

// =============================================================================
// Reproduzierbarkeit
// =============================================================================

var (
	// Seed initialisiert alle Rauschquellen, 0 = zeitbasiert
	Seed = Uint64("DDPM_SEED", 0)
)

// =============================================================================
// Objektspeicher (S3/MinIO)
// =============================================================================

var (
	// S3Endpoint ueberschreibt den AWS-Endpunkt, z.B. fuer MinIO
	S3Endpoint = String("DDPM_S3_ENDPOINT")

	// S3Region setzt die Region fuer S3-Zugriffe
	S3Region = String("DDPM_S3_REGION")

	// AccessKeyID und SecretAccessKey werden als statische Zugangsdaten genutzt
	AccessKeyID     = String("AWS_ACCESS_KEY_ID")
	SecretAccessKey = String("AWS_SECRET_ACCESS_KEY")
)
