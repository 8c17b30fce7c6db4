// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/llm"
)

// triageOutcome is the closed set of classifications the triage gate may
// return for a request.
type triageOutcome string

const (
	triageCompleted   triageOutcome = "COMPLETED"
	triageMissingInfo triageOutcome = "MISSING_INFO"
	triageReady       triageOutcome = "READY"
)

type triageDecision struct {
	Outcome triageOutcome
	Content string
}

const triageSystemPrompt = `You are a triage gate for an agent. Given the user's
latest message and nothing else, decide one of:
  COMPLETED     - the message already contains everything needed and your
                  reply alone answers it; no tool use or further turns required.
  MISSING_INFO  - you cannot proceed without the user clarifying something.
  READY         - the request needs the full tool-using reasoning loop.
Respond with the decision field set to one of the three values above, a
short rationale, and (only for MISSING_INFO) the clarifying question to ask.`

var triageResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decision": map[string]any{
			"type": "string",
			"enum": []string{"COMPLETED", "MISSING_INFO", "READY"},
		},
		"rationale":     map[string]any{"type": "string"},
		"clarification": map[string]any{"type": "string"},
	},
	"required": []string{"decision"},
}

type triageResponsePayload struct {
	Decision      string `json:"decision"`
	Rationale     string `json:"rationale"`
	Clarification string `json:"clarification"`
}

// runTriage issues the cheap, bounded, constrained-schema LLM call the
// triage gate is built on and classifies the result.
func runTriage(ctx context.Context, rc *RequestContext) (triageDecision, error) {
	svc := rc.Services

	cctx, cancel := context.WithTimeout(ctx, svc.Config.LLMCallTimeout)
	defer cancel()

	req := &llm.Request{
		Messages:          []conversation.Message{{Role: conversation.RoleUser, Content: rc.UserInput}},
		SystemInstruction: triageSystemPrompt,
		Config: &llm.GenerateConfig{
			ResponseMIMEType:   "application/json",
			ResponseSchema:     triageResponseSchema,
			ResponseSchemaName: "triage_decision",
		},
	}

	resp, err := callOnce(cctx, svc.LLM, req)
	if err != nil {
		return triageDecision{}, fmt.Errorf("agentloop: triage call: %w", err)
	}

	var payload triageResponsePayload
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		return triageDecision{}, fmt.Errorf("agentloop: decode triage response: %w", err)
	}

	switch triageOutcome(payload.Decision) {
	case triageCompleted:
		return triageDecision{Outcome: triageCompleted, Content: payload.Rationale}, nil
	case triageMissingInfo:
		return triageDecision{Outcome: triageMissingInfo, Content: payload.Clarification}, nil
	default:
		return triageDecision{Outcome: triageReady}, nil
	}
}

// callOnce drains a non-streaming GenerateContent call down to its single
// Response.
func callOnce(ctx context.Context, model llm.LLM, req *llm.Request) (*llm.Response, error) {
	var final *llm.Response
	var callErr error
	for resp, err := range model.GenerateContent(ctx, req, false) {
		if err != nil {
			callErr = err
			break
		}
		final = resp
	}
	if callErr != nil {
		return nil, callErr
	}
	if final == nil {
		return nil, fmt.Errorf("agentloop: llm call produced no response")
	}
	return final, nil
}
