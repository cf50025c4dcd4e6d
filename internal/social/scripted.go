package social

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedAnalyzer serves canned pulses for tests and simulation runs.
type ScriptedAnalyzer struct {
	mu     sync.Mutex
	pulses map[string]Pulse
	topics []string
}

// NewScriptedAnalyzer returns an empty scripted analyzer. Unscripted topics
// get a neutral placeholder pulse.
func NewScriptedAnalyzer() *ScriptedAnalyzer {
	return &ScriptedAnalyzer{pulses: make(map[string]Pulse)}
}

// Name identifies the analyzer.
func (s *ScriptedAnalyzer) Name() string { return "mock" }

// Script registers the pulse returned for a topic.
func (s *ScriptedAnalyzer) Script(topic string, pulse Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses[topic] = pulse
}

// Topics returns the topics analyzed so far.
func (s *ScriptedAnalyzer) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.topics))
	copy(out, s.topics)
	return out
}

// Analyze returns the scripted pulse for the topic.
func (s *ScriptedAnalyzer) Analyze(ctx context.Context, topic string, maxTokens int) (Pulse, error) {
	if err := ctx.Err(); err != nil {
		return Pulse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	if pulse, ok := s.pulses[topic]; ok {
		return pulse, nil
	}
	return Pulse{
		Summary:   fmt.Sprintf("Réactions simulées sur « %s ».", topic),
		Sentiment: SentimentNeutral,
	}, nil
}
