package traces

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/guardian/internal/logging"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", logging.Discard())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "orchestrator.process", Analyzer("fraud-agent"), Score(80))
	defer span.End()

	if ctx == nil {
		t.Fatal("expected a context")
	}
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
}
