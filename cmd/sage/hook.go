package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sage-sh/sage/internal/approval"
	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/decision"
	"github.com/sage-sh/sage/internal/evaluator"
)

// hookInput is the minimal hook-call contract (§6): at least
// session_id?/tool_name/tool_input arrive on stdin as one JSON object.
type hookInput struct {
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

// runHook implements `sage hook` (C17): decode stdin, run the evaluator,
// fold in the approval store's cross-call "already consented" state, and
// emit exactly one line of adapter-shaped JSON. Exit code is always 0 and
// every internal failure degrades to an allow verdict (§7 kind 1, kind 7).
func runHook(args []string, stateDir string) {
	hookFlags := flag.NewFlagSet("hook", flag.ContinueOnError)
	adapter := hookFlags.String("adapter", "claude", "Output shape: claude, cursor-pretooluse, cursor-before, openclaw")
	_ = hookFlags.Parse(args)

	emit := func(v decision.Verdict, actionID string) {
		writeHookOutput(os.Stdout, *adapter, v, actionID)
	}

	raw, err := decodeStdin(os.Stdin)
	if err != nil {
		log.Warn("read stdin: %v", err)
		emit(decision.Verdict{Decision: decision.Allow}, "")
		return
	}

	var in hookInput
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Warn("parse hook input: %v", err)
		emit(decision.Verdict{Decision: decision.Allow}, "")
		return
	}
	if in.ToolInput == nil {
		in.ToolInput = json.RawMessage("{}")
	}

	v := evaluator.Evaluate(context.Background(), evaluator.Request{
		SessionID: in.SessionID,
		ToolName:  in.ToolName,
		ToolInput: in.ToolInput,
	}, stateDir)

	actionID := approval.ActionID(in.ToolName, in.ToolInput)

	if v.Decision != decision.Allow && in.SessionID != "" {
		store := approval.Open(stateDir, in.SessionID)
		if allConsumed(store, v.Artifacts) {
			v = decision.Verdict{Decision: decision.Allow, Source: "approval_consumed"}
		} else if v.Decision == decision.Ask {
			store.AddPending(actionID, approval.PendingRecord{
				ThreatID:    v.MatchedThreatID,
				ThreatTitle: v.Category,
				Artifacts:   v.Artifacts,
			})
		}
	}

	emit(v, actionID)
}

// allConsumed reports whether every artifact in the verdict already has a
// live consumed-approval entry for this session — i.e. the user already
// approved this exact ask in a prior call.
func allConsumed(store *approval.Store, artifacts []artifact.Artifact) bool {
	if len(artifacts) == 0 {
		return false
	}
	for _, a := range artifacts {
		if _, ok := store.FindConsumed(a.Type, a.Value); !ok {
			return false
		}
	}
	return true
}

func writeHookOutput(w *os.File, adapter string, v decision.Verdict, actionID string) {
	reason := hookReason(v, actionID)

	var payload any
	switch adapter {
	case "cursor-pretooluse":
		if v.Decision == decision.Allow {
			payload = map[string]any{"decision": "allow"}
		} else {
			payload = map[string]any{"decision": "deny", "reason": reason}
		}
	case "cursor-before":
		payload = map[string]any{"permission": string(v.Decision), "user_message": reason, "agent_message": reason}
	case "openclaw":
		if v.Decision == decision.Allow {
			payload = map[string]any{}
		} else {
			payload = map[string]any{"block": true, "blockReason": reason, "actionId": actionID}
		}
	default: // claude
		if v.Decision == decision.Allow {
			payload = map[string]any{}
		} else {
			decisionField := "ask"
			if v.Decision == decision.Deny {
				decisionField = "deny"
			}
			payload = map[string]any{
				"hookSpecificOutput": map[string]any{
					"hookEventName":            "PreToolUse",
					"permissionDecision":       decisionField,
					"permissionDecisionReason": reason,
				},
			}
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintln(w, "{}")
		return
	}
	fmt.Fprintln(w, string(data))
}

func hookReason(v decision.Verdict, actionID string) string {
	if v.Decision == decision.Allow {
		return ""
	}
	reason := "Sage: "
	if v.Category != "" {
		reason += v.Category
	} else {
		reason += "blocked by policy"
	}
	if len(v.Reasons) > 0 {
		reason += " (" + v.Reasons[0] + ")"
	}
	if v.Decision == decision.Ask && actionID != "" {
		reason += " [actionId=" + actionID + "]"
	}
	return reason
}
