package tool

import (
	"context"
	"fmt"

	"github.com/voxloop-ai/voxloop/pkg/types"
)

// Built-in tool names. These are always offered to the model regardless of
// the agent's tool allowlist.
const (
	EndCallName      = "end_call"
	TransferCallName = "transfer_call"
)

// NewEndCall builds the built-in hangup tool. onEnd is invoked with the
// model-provided reason; the session wires it to its own teardown.
func NewEndCall(onEnd func(ctx context.Context, reason string) error) Tool {
	return Func{
		Def: types.ToolDefinition{
			Name:        EndCallName,
			Description: "End the current call. Use when the caller says goodbye or the conversation has reached its natural conclusion.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Short reason for ending the call.",
					},
				},
			},
			Idempotent: true,
		},
		Fn: func(ctx context.Context, req types.ToolRequest) (string, error) {
			reason, _ := req.Arguments["reason"].(string)
			if reason == "" {
				reason = "assistant_ended"
			}
			if err := onEnd(ctx, reason); err != nil {
				return "", fmt.Errorf("end call: %w", err)
			}
			return "The call is being ended.", nil
		},
	}
}

// NewTransferCall builds the built-in human-handoff tool. target is the
// number configured on the agent; onTransfer is wired to the telephony
// provider by the session.
func NewTransferCall(target string, onTransfer func(ctx context.Context, target string) error) Tool {
	return Func{
		Def: types.ToolDefinition{
			Name:        TransferCallName,
			Description: "Transfer the caller to a human agent. Use when the caller asks for a person or the request is beyond your abilities.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Fn: func(ctx context.Context, req types.ToolRequest) (string, error) {
			if target == "" {
				return "", fmt.Errorf("transfer call: no transfer number configured")
			}
			if err := onTransfer(ctx, target); err != nil {
				return "", fmt.Errorf("transfer call: %w", err)
			}
			return "Transferring the caller now.", nil
		},
	}
}
