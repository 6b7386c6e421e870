// Package parser turns raw stream frames and history records into typed
// state mutations. Every function here is a pure function of its inputs.
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/deckflow/internal/model"
)

var validate = validator.New()

// DecodeEnvelope unmarshals and validates one stream frame.
func DecodeEnvelope(raw []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: decode envelope: %v", model.ErrParse, err)
	}
	if err := validate.Struct(&env); err != nil {
		return env, fmt.Errorf("%w: invalid envelope: %v", model.ErrParse, err)
	}
	return env, nil
}

// Parse maps one decoded frame to the mutations it implies against state.
// The welcome event becomes SetMetadata without touching logs or slides.
func Parse(env model.Envelope, state model.State) ([]Mutation, error) {
	switch env.Event {
	case model.EventConnected:
		m, err := ParseWelcome(env.Data)
		if err != nil {
			return nil, err
		}
		return []Mutation{m}, nil
	case model.EventAgentOutput:
		var out model.AgentOutput
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("%w: decode agent_output: %v", model.ErrParse, err)
		}
		return ParseOutput(out, state)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", model.ErrParse, env.Event)
	}
}

// ParseWelcome reads the session identifiers sent right after connect.
func ParseWelcome(data json.RawMessage) (Mutation, error) {
	var md model.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Mutation{}, fmt.Errorf("%w: decode welcome: %v", model.ErrParse, err)
	}
	if md == nil {
		return Mutation{}, fmt.Errorf("%w: welcome carries no metadata", model.ErrParse)
	}
	return Mutation{Kind: KindSetMetadata, Metadata: md}, nil
}

// ParseOutput classifies one agent output record.
func ParseOutput(out model.AgentOutput, state model.State) ([]Mutation, error) {
	if err := validate.Struct(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid agent_output: %v", model.ErrParse, err)
	}

	if out.Type == model.OutputTypeTerminal {
		m, err := terminal(out)
		if err != nil {
			return nil, err
		}
		return []Mutation{m}, nil
	}

	var muts []Mutation
	if state.Phase == model.PhaseQueued {
		muts = append(muts, Mutation{Kind: KindSetPhase, Phase: model.PhaseProcessing})
	}

	switch out.Type {
	case model.OutputTypeLog, model.OutputTypeWorkerProgress:
		m, err := logMutation(out, state)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	case model.OutputTypeLogMetadata:
		m, err := logMutation(out, state)
		if err != nil {
			return nil, err
		}
		if out.Metadata == nil {
			return nil, fmt.Errorf("%w: log_metadata without metadata", model.ErrParse)
		}
		muts = append(muts, m, Mutation{Kind: KindSetMetadata, Metadata: out.Metadata})
	case model.OutputTypeSlide:
		m, err := slideMutation(out, state)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}
	return muts, nil
}

func terminal(out model.AgentOutput) (Mutation, error) {
	phase, err := model.ParsePhase(out.Status)
	if err != nil || !phase.Terminal() {
		return Mutation{}, fmt.Errorf("%w: terminal status %q", model.ErrParse, out.Status)
	}
	m := Mutation{Kind: KindTerminal, Phase: phase}
	if phase == model.PhaseFailed {
		m.Error = out.Error
		if m.Error == "" {
			m.Error = "presentation generation failed"
		}
	}
	return m, nil
}
