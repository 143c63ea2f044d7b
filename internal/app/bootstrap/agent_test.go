package bootstrap

import (
	"context"
	"testing"

	"github.com/carebridgehq/carebridge-platform/internal/agent"
	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func TestBuildAgentServiceRequiresConfig(t *testing.T) {
	if _, err := BuildAgentService(context.Background(), nil, nil, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildAgentServiceNoModelReturnsStub(t *testing.T) {
	cfg := &appconfig.Config{}

	svc, err := BuildAgentService(nil, cfg, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc == nil {
		t.Fatalf("expected service")
	}
	if _, ok := svc.(*agent.StubService); !ok {
		t.Fatalf("expected StubService, got %T", svc)
	}
}

func TestBuildLLMClientUnconfiguredReturnsNil(t *testing.T) {
	cfg := &appconfig.Config{}
	logger := logging.New("error")

	client, model := buildLLMClient(context.Background(), cfg, logger)
	if client != nil {
		t.Fatalf("expected nil client when no LLM is configured, got %T", client)
	}
	if model != "" {
		t.Fatalf("expected empty model, got %q", model)
	}
}
