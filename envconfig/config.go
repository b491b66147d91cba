// config.go - Haupt-Konfigurationsfunktionen fuer ddpm
//
// Dieses Modul enthaelt:
// - Home: Wurzelverzeichnis fuer runs/, results/, models/ (DDPM_HOME)
// - Device: Rechengeraet (DDPM_DEVICE)
// - RunLog: Pfad der Experiment-Datenbank (DDPM_RUNLOG)
// - NumWorkers: Anzahl paralleler Bild-Decoder (DDPM_NUM_WORKERS)
// - LogLevel: Gibt Log-Level zurueck (DDPM_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Seed und S3-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Home gibt das Arbeitsverzeichnis zurueck
// Konfigurierbar via DDPM_HOME
// Default: aktuelles Verzeichnis
func Home() string {
	if s := Var("DDPM_HOME"); s != "" {
		return s
	}
	return "."
}

// Device gibt die Geraete-Bezeichnung zurueck (z.B. "cpu", "cpu:0")
// Konfigurierbar via DDPM_DEVICE
// Default: cpu
func Device() string {
	if s := Var("DDPM_DEVICE"); s != "" {
		return strings.ToLower(s)
	}
	return "cpu"
}

// RunLog gibt den Pfad der SQLite-Datenbank fuer Trainingslaeufe zurueck
// Konfigurierbar via DDPM_RUNLOG
// Default: $DDPM_HOME/runs/runlog.sqlite
func RunLog() string {
	if s := Var("DDPM_RUNLOG"); s != "" {
		return s
	}
	return filepath.Join(Home(), "runs", "runlog.sqlite")
}

// NumWorkers gibt die Anzahl paralleler Decoder beim Laden des Datensatzes zurueck
// Konfigurierbar via DDPM_NUM_WORKERS
// Default: GOMAXPROCS
func NumWorkers() int {
	if n := numWorkers(); n > 0 {
		return int(n)
	}
	return runtime.GOMAXPROCS(0)
}

var numWorkers = Uint("DDPM_NUM_WORKERS", 0)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via DDPM_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("DDPM_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
