package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

const systemPrompt = `You are a Kubernetes failure diagnostician. Given evidence
collected from a failing workload, identify the most likely root cause and, if
one exists, a safe remediation plan. Respond with a single JSON object:
{
  "root_cause": "one-sentence diagnosis",
  "confidence": 0.0-1.0,
  "actions": [
    {"kind": "rollout_restart|patch_deployment|scale_deployment|cordon_node|drain_node|network_patch",
     "parameters": {"key": "value"}}
  ]
}
Omit "actions" when no remediation is appropriate. Report honest confidence:
low confidence on thin evidence is correct behavior, not failure.`

// OpenAIAnalyzer asks a chat model for a structured diagnosis. The
// response is requested in JSON mode and parsed strictly; a malformed
// reply is an error so the chain can fall through to the rules analyzer.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIAnalyzer creates a model-backed analyzer.
func NewOpenAIAnalyzer(apiKey, model string) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAnalyzer{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: log.WithComponent("analyzer"),
	}, nil
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, snap *evidence.Snapshot, sig types.FailureSignature) (*types.Finding, error) {
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: renderEvidence(snap, sig)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, types.TransientErr("analyze", fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, types.TransientErr("analyze", fmt.Errorf("model returned no choices"))
	}

	finding, err := parseFinding(resp.Choices[0].Message.Content, snap.Target)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().
		Str("target", snap.Target.String()).
		Float64("confidence", finding.Confidence).
		Msg("model diagnosis received")
	return finding, nil
}

// renderEvidence flattens the snapshot into the prompt body. Log volume
// is capped so a noisy workload cannot blow the context window.
func renderEvidence(snap *evidence.Snapshot, sig types.FailureSignature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target: %s\n\n", snap.Target.String())

	if len(sig.Signals) > 0 {
		b.WriteString("Failure signature signals:\n")
		for _, s := range sig.Signals {
			fmt.Fprintf(&b, "- %s %s=%s\n", s.Kind, s.Key, s.Value)
		}
		b.WriteString("\n")
	}

	if len(snap.Events) > 0 {
		b.WriteString("Kubernetes events:\n")
		for _, ev := range snap.Events {
			fmt.Fprintf(&b, "- [%s] %s (x%d): %s\n", ev.Kind, ev.Reason, ev.Count, ev.Message)
		}
		b.WriteString("\n")
	}

	if len(snap.Pods) > 0 {
		b.WriteString("Pod states:\n")
		for _, p := range snap.Pods {
			fmt.Fprintf(&b, "- %s phase=%s restarts=%d waiting=%s terminated=%s ready=%v\n",
				p.Name, p.Phase, p.Restarts, p.WaitingReason, p.TerminatedReason, p.Ready)
		}
		b.WriteString("\n")
	}

	if len(snap.Logs) > 0 {
		b.WriteString("Recent logs:\n")
		logs := snap.Logs
		if len(logs) > 50 {
			logs = logs[len(logs)-50:]
		}
		for _, line := range logs {
			fmt.Fprintf(&b, "%s %s\n", line.Timestamp.Format("15:04:05"), line.Message)
		}
	}
	return b.String()
}

type modelReply struct {
	RootCause  string  `json:"root_cause"`
	Confidence float64 `json:"confidence"`
	Actions    []struct {
		Kind       string            `json:"kind"`
		Parameters map[string]string `json:"parameters"`
	} `json:"actions"`
}

var knownKinds = map[types.ActionKind]struct{}{
	types.ActionRestart:      {},
	types.ActionPatch:        {},
	types.ActionScale:        {},
	types.ActionCordon:       {},
	types.ActionDrain:        {},
	types.ActionNetworkPatch: {},
}

// parseFinding validates the model reply and maps it onto the target.
// An unknown action kind rejects the whole reply rather than silently
// dropping a step from an ordered plan.
func parseFinding(raw string, target types.Target) (*types.Finding, error) {
	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, types.PermanentErr("analyze", fmt.Errorf("malformed model reply: %w", err))
	}
	if reply.RootCause == "" {
		return nil, types.PermanentErr("analyze", fmt.Errorf("model reply missing root_cause"))
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return nil, types.PermanentErr("analyze", fmt.Errorf("confidence %v out of range", reply.Confidence))
	}

	finding := &types.Finding{
		RootCause:  reply.RootCause,
		Confidence: reply.Confidence,
	}
	if len(reply.Actions) == 0 {
		return finding, nil
	}

	plan := &types.Plan{}
	for _, a := range reply.Actions {
		kind := types.ActionKind(a.Kind)
		if _, ok := knownKinds[kind]; !ok {
			return nil, types.PermanentErr("analyze", fmt.Errorf("unknown action kind %q in model reply", a.Kind))
		}
		plan.Actions = append(plan.Actions, types.Action{
			Kind:           kind,
			Target:         target,
			Parameters:     a.Parameters,
			IdempotencyKey: types.ComputeIdempotencyKey(kind, target, a.Parameters),
		})
	}
	finding.SuggestedPlan = plan
	return finding, nil
}
