package envconfig

import (
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHomeAndRunLog(t *testing.T) {
	t.Setenv("DDPM_HOME", "")
	t.Setenv("DDPM_RUNLOG", "")
	if got := Home(); got != "." {
		t.Errorf("Home() = %q, want %q", got, ".")
	}
	if got, want := RunLog(), filepath.Join(".", "runs", "runlog.sqlite"); got != want {
		t.Errorf("RunLog() = %q, want %q", got, want)
	}

	t.Setenv("DDPM_HOME", "'/data/ddpm'")
	if got, want := RunLog(), filepath.Join("/data/ddpm", "runs", "runlog.sqlite"); got != want {
		t.Errorf("RunLog() = %q, want %q", got, want)
	}

	t.Setenv("DDPM_RUNLOG", "/tmp/custom.sqlite")
	if got := RunLog(); got != "/tmp/custom.sqlite" {
		t.Errorf("RunLog() = %q", got)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("DDPM_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: expected %d, got %d", k, v, i)
			}
		})
	}
}

func TestDevice(t *testing.T) {
	t.Setenv("DDPM_DEVICE", "")
	if got := Device(); got != "cpu" {
		t.Errorf("Device() = %q", got)
	}
	t.Setenv("DDPM_DEVICE", " CPU:0 ")
	if got := Device(); got != "cpu:0" {
		t.Errorf("Device() = %q", got)
	}
}

func TestNumbers(t *testing.T) {
	t.Setenv("DDPM_NUM_WORKERS", "")
	if got := NumWorkers(); got != runtime.GOMAXPROCS(0) {
		t.Errorf("NumWorkers() = %d", got)
	}
	t.Setenv("DDPM_NUM_WORKERS", "3")
	if got := NumWorkers(); got != 3 {
		t.Errorf("NumWorkers() = %d", got)
	}

	t.Setenv("DDPM_SEED", "42")
	if got := Seed(); got != 42 {
		t.Errorf("Seed() = %d", got)
	}
	t.Setenv("DDPM_SEED", "not-a-number")
	if got := Seed(); got != 0 {
		t.Errorf("Seed() = %d, want default", got)
	}
}

func TestValues(t *testing.T) {
	t.Setenv("DDPM_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "minio")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	vals := Values()
	got := map[string]string{
		"DDPM_S3_ENDPOINT":      vals["DDPM_S3_ENDPOINT"],
		"AWS_ACCESS_KEY_ID":     vals["AWS_ACCESS_KEY_ID"],
		"AWS_SECRET_ACCESS_KEY": vals["AWS_SECRET_ACCESS_KEY"],
	}
	want := map[string]string{
		"DDPM_S3_ENDPOINT":      "http://localhost:9000",
		"AWS_ACCESS_KEY_ID":     "********",
		"AWS_SECRET_ACCESS_KEY": "",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}

	for k, v := range AsMap() {
		if k != v.Name {
			t.Errorf("key %s has name %s", k, v.Name)
		}
		if v.Description == "" {
			t.Errorf("%s has no description", k)
		}
	}
}
