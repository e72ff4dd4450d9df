package observability

import (
	"context"
	"testing"
)

func TestSetupTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{ServiceName: "restopos-test"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected noop shutdown, got %v", err)
	}
}

func TestSetupTracingWithEndpointInstallsProvider(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
		ServiceName: "restopos-test",
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	// no spans were recorded, so nothing is exported on shutdown
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
