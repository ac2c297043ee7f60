package deliberator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetctl/fleetd/pkg/errs"
	"github.com/fleetctl/fleetd/pkg/logging"
	"github.com/fleetctl/fleetd/pkg/types"
)

const systemPrompt = `You are the planning brain for a distributed fleet daemon.
Your job is to analyze the current cluster state, goals, and attachments, then propose actions to achieve the goals.

IMPORTANT CONSTRAINTS:
1. You can ONLY emit actions from the allowed action types
2. You must NEVER propose actions that would affect hosts not in the cluster
3. You must NEVER propose shell commands or arbitrary code execution
4. Prioritize stability and safety over speed
5. When unsure, emit a RequestHumanApproval action

Respond with a JSON object containing:
{
  "reasoning": "brief explanation of your analysis",
  "actions": [ ... ]
}

Each action must use one of: schedule_task, rebalance_task, cancel_task,
update_goal_progress, create_attachment, remove_attachment,
mark_node_degraded, request_human_approval, no_op.`

// OracleConfig configures an OracleClient against an OpenAI-compatible
// chat completions endpoint.
type OracleConfig struct {
	APIBase     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OracleClient delegates planning to an external LLM over HTTP, treating
// it strictly as a black box: request in, parsed actions out, no
// retries or conversation state kept between planning ticks.
type OracleClient struct {
	cfg        OracleConfig
	httpClient *http.Client
}

// NewOracleClient creates an OracleClient. If cfg.APIBase is empty it
// defaults to OpenAI's public API.
func NewOracleClient(cfg OracleConfig) *OracleClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OracleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float32       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type plannerOutput struct {
	Reasoning string          `json:"reasoning"`
	Actions   []rawAction     `json:"actions"`
}

type rawAction struct {
	types.Action
	Type string `json:"type"`
}

// Plan implements Planner by asking the configured LLM to analyze the
// current state and propose actions.
func (o *OracleClient) Plan(ctx context.Context, input Input) ([]types.Action, error) {
	log := logging.WithComponent("deliberator")

	activeGoals := 0
	for _, g := range input.Goals {
		if g.Active {
			activeGoals++
		}
	}
	if activeGoals == 0 {
		log.Debug().Msg("no active goals, skipping planning")
		return []types.Action{{Kind: types.ActionNoOp, Reason: "no active goals"}}, nil
	}

	userMsg, err := buildUserMessage(input)
	if err != nil {
		return nil, fmt.Errorf("failed to build planner input: %w", err)
	}

	content, err := o.chat(ctx, systemPrompt, userMsg)
	if err != nil {
		return nil, &errs.TransientOracle{Err: err}
	}

	var output plannerOutput
	if err := json.Unmarshal([]byte(content), &output); err != nil {
		return nil, &errs.TransientOracle{Err: fmt.Errorf("bad oracle output: %w, raw: %s", err, content)}
	}
	log.Debug().Str("reasoning", output.Reasoning).Msg("planning reasoning")

	actions := make([]types.Action, 0, len(output.Actions))
	for _, raw := range output.Actions {
		kind := types.ActionKind(raw.Type)
		if !isKnownActionKind(kind) {
			log.Warn().Str("type", raw.Type).Msg("oracle proposed unparseable action, skipping")
			continue
		}
		action := raw.Action
		action.Kind = kind
		actions = append(actions, action)
	}
	return actions, nil
}

// isKnownActionKind is the closed schema an oracle response is parsed
// against: anything outside this set is dropped rather than forwarded
// to the tracker and policy validator.
func isKnownActionKind(kind types.ActionKind) bool {
	switch kind {
	case types.ActionScheduleTask,
		types.ActionRebalanceTask,
		types.ActionCancelTask,
		types.ActionUpdateGoalProgress,
		types.ActionCreateAttachment,
		types.ActionRemoveAttachment,
		types.ActionMarkNodeDegraded,
		types.ActionRequestHumanApproval,
		types.ActionNoOp:
		return true
	default:
		return false
	}
}

func buildUserMessage(input Input) (string, error) {
	payload := struct {
		Goals       []types.Goal       `json:"goals"`
		Nodes       []types.Node       `json:"nodes"`
		Tasks       []types.Task       `json:"tasks"`
		Attachments []types.Attachment `json:"attachments"`
		LeaderID    string             `json:"leader_id"`
	}{
		Nodes:       input.Snapshot.Nodes,
		Tasks:       input.Snapshot.Tasks,
		Attachments: input.Attachments,
		LeaderID:    input.Snapshot.LeaderID,
	}
	for _, g := range input.Goals {
		if g.Active {
			payload.Goals = append(payload.Goals, g)
		}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Current state:\n```json\n%s\n```\n\nAnalyze and propose actions.", data), nil
}

func (o *OracleClient) chat(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	req.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle endpoint returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response content from oracle")
	}
	return chatResp.Choices[0].Message.Content, nil
}
