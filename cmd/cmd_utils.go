// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: openStore, readObject, writeObject, parseDevice,
// checkpointMetadata, stepProgress
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/ollama/ddpm/diffusion"
	"github.com/ollama/ddpm/envconfig"
	"github.com/ollama/ddpm/ml"
	"github.com/ollama/ddpm/nn"
	"github.com/ollama/ddpm/storage"
	"github.com/ollama/ddpm/train"
)

// Schluessel der Checkpoint-Metadaten
const (
	metaDiffusion = "diffusion_config"
	metaDenoiser  = "denoiser_config"
	metaTrain     = "train_config"
	metaRun       = "run_id"
)

// openStore - Oeffnet lokales Verzeichnis oder s3://bucket/prefix
func openStore(uri string) (storage.Store, error) {
	return storage.Open(uri, storage.S3Config{
		Endpoint:        envconfig.S3Endpoint(),
		Region:          envconfig.S3Region(),
		AccessKeyID:     envconfig.AccessKeyID(),
		SecretAccessKey: envconfig.SecretAccessKey(),
	})
}

// splitObject - Trennt eine Objekt-URI in Verzeichnis und Schluessel
func splitObject(uri string) (dir, key string) {
	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		prefix, base := path.Split(key)
		return "s3://" + path.Join(bucket, prefix), base
	}
	return filepath.Dir(uri), filepath.Base(uri)
}

// readObject - Liest eine lokale Datei oder ein S3-Objekt vollstaendig
func readObject(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return os.Open(uri)
	}

	dir, key := splitObject(uri)
	store, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

// writeObject - Schreibt data nach uri (lokal oder S3)
func writeObject(ctx context.Context, uri string, data []byte) error {
	dir, key := splitObject(uri)
	store, err := openStore(dir)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, bytes.NewReader(data))
}

// parseDevice - Loest die Geraete-Bezeichnung auf, Fehler als ConfigurationError
func parseDevice(s string) (ml.Device, error) {
	dev, err := ml.ParseDevice(s)
	if err != nil {
		return ml.Device{}, &diffusion.ConfigurationError{Field: "device", Reason: err.Error()}
	}
	return dev, nil
}

// trainSeeds - Leitet getrennte Seeds fuer Vorwaertsrauschen,
// Gewichtsinitialisierung und Shuffle ab
func trainSeeds(seed uint64) (engine, model, loader uint64) {
	s := ml.SplitSeed(seed, 3)
	return s[0], s[1], s[2]
}

// checkpointMetadata - Serialisiert die Konfigurationen, aus denen sample
// Engine und Modell wieder aufbaut
func checkpointMetadata(dcfg diffusion.Config, mcfg nn.DenoiserConfig, tcfg train.Config) (map[string]string, error) {
	meta := make(map[string]string)
	for k, v := range map[string]any{metaDiffusion: dcfg, metaDenoiser: mcfg, metaTrain: tcfg} {
		bts, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", k, err)
		}
		meta[k] = string(bts)
	}
	return meta, nil
}

// configsFromMetadata - Gegenstueck zu checkpointMetadata
func configsFromMetadata(meta map[string]string) (diffusion.Config, nn.DenoiserConfig, error) {
	var dcfg diffusion.Config
	var mcfg nn.DenoiserConfig

	for k, v := range map[string]any{metaDiffusion: &dcfg, metaDenoiser: &mcfg} {
		s, ok := meta[k]
		if !ok {
			return dcfg, mcfg, fmt.Errorf("checkpoint metadata has no %s", k)
		}
		if err := json.Unmarshal([]byte(s), v); err != nil {
			return dcfg, mcfg, fmt.Errorf("parse %s: %w", k, err)
		}
	}
	return dcfg, mcfg, nil
}

// stepProgress - Zeigt den Fortschritt der Rueckwaertsschritte auf stderr,
// nur wenn stderr ein Terminal ist
func stepProgress(total int) (diffusion.StepFunc, func()) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil, func() {}
	}

	start := time.Now()
	fn := func(step, t int, _ *ml.Tensor) {
		fmt.Fprintf(os.Stderr, "\rsampling %d/%d (t=%d) %s", step, total, t, time.Since(start).Round(time.Second))
	}
	return fn, func() { fmt.Fprintln(os.Stderr) }
}
