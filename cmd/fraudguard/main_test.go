package main

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestEnvBool(t *testing.T) {
	t.Setenv("FRAUDGUARD_ASYNC_WORKER", "false")
	if envBool("ASYNC_WORKER", true) {
		t.Error("expected explicit false to win")
	}

	t.Setenv("FRAUDGUARD_ASYNC_WORKER", "not-a-bool")
	if !envBool("ASYNC_WORKER", true) {
		t.Error("expected fallback on an unparsable value")
	}

	if envBool("UNSET_SWITCH", false) {
		t.Error("expected fallback when unset")
	}
}

func TestEnvString(t *testing.T) {
	if got := envString("CONFIG_UNSET_FOR_TEST", "default.yaml"); got != "default.yaml" {
		t.Errorf("got %q", got)
	}
	t.Setenv("FRAUDGUARD_CONFIG_UNSET_FOR_TEST", "other.yaml")
	if got := envString("CONFIG_UNSET_FOR_TEST", "default.yaml"); got != "other.yaml" {
		t.Errorf("got %q", got)
	}
}

func TestPrintRoutes(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/health", func(http.ResponseWriter, *http.Request) {})
	r.Post("/api/v1/predict_fraud", func(http.ResponseWriter, *http.Request) {})

	var buf bytes.Buffer
	printRoutes(&buf, r)

	out := buf.String()
	for _, want := range []string{"GET     /health", "POST    /api/v1/predict_fraud"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
