package agent

import (
	"context"
	"io"

	"github.com/roach88/puk/internal/engine"
)

// MockRuntime is the offline agent runtime behind the "mock" provider. It
// emits a fixed text output and never calls tools, which is enough to
// exercise the full run lifecycle without network access.
type MockRuntime struct {
	// Text is the model output to emit. Defaults to an empty JSON plan so
	// plan-mode runs complete.
	Text string
}

func (m *MockRuntime) Run(context.Context, engine.Request) (engine.Stream, error) {
	text := m.Text
	if text == "" {
		text = `{"steps":[]}`
	}
	return &mockStream{text: text}, nil
}

type mockStream struct {
	text string
	done bool
}

func (s *mockStream) Next(context.Context) (engine.RuntimeEvent, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return engine.TextOutput{Text: s.text}, nil
}
