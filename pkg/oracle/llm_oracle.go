package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
)

const systemMessage = `You label relational database schema elements with their business purpose.
Reply with a single JSON object: {"label": "<short snake_case purpose>", "confidence": <0..1>, "target": "<optional>"}.
For term_match requests, "target" must be one of the candidate elements given in context, or empty when none fit.
Never include prose outside the JSON object.`

// LLMOracle asks a chat model and guards it with a circuit breaker and a
// per-call timeout.
type LLMOracle struct {
	client  llm.LLMClient
	breaker *llm.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMOracle creates an oracle backed by client.
func NewLLMOracle(client llm.LLMClient, breaker *llm.CircuitBreaker, timeout time.Duration, logger *zap.Logger) *LLMOracle {
	if breaker == nil {
		breaker = llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMOracle{
		client:  client,
		breaker: breaker,
		timeout: timeout,
		logger:  logger.Named("oracle"),
	}
}

type reply struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Target     string   `json:"target"`
}

// Classify sends one request to the model.
func (o *LLMOracle) Classify(ctx context.Context, req Request) Result {
	result := o.classify(ctx, req)
	metrics.ObserveOracleOutcome(req.Kind, string(result.Status))
	return result
}

func (o *LLMOracle) classify(ctx context.Context, req Request) Result {
	if allowed, err := o.breaker.Allow(); !allowed {
		return Unavailable(err.Error())
	}

	prompt, err := json.Marshal(req)
	if err != nil {
		return Malformed(fmt.Sprintf("encode request: %v", err))
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	callCtx = llm.WithContext(callCtx, map[string]string{"kind": req.Kind, "subject": req.Subject})

	resp, err := o.client.GenerateResponse(callCtx, string(prompt), systemMessage, 0)
	if err != nil {
		if llm.GetErrorType(err) == llm.ErrorTypeMalformed {
			o.breaker.RecordSuccess()
			return Malformed(err.Error())
		}
		o.breaker.RecordFailure()
		o.logger.Debug("Oracle call failed",
			append(llm.ContextFields(callCtx),
				zap.Int("consecutive_failures", o.breaker.ConsecutiveFailures()),
				zap.Error(err))...)
		if errors.Is(err, context.DeadlineExceeded) {
			return Unavailable("oracle timed out")
		}
		return Unavailable(err.Error())
	}
	o.breaker.RecordSuccess()

	parsed, err := llm.ParseJSONResponse[reply](resp.Content)
	if err != nil {
		return Malformed(err.Error())
	}
	return validate(parsed)
}

func validate(r reply) Result {
	label := strings.TrimSpace(r.Label)
	if label == "" {
		return Malformed("missing label")
	}
	if r.Confidence == nil {
		return Malformed("missing confidence")
	}
	c := *r.Confidence
	if c < 0 || c > 1 {
		return Malformed(fmt.Sprintf("confidence %v out of range", c))
	}
	return Result{
		Status:     StatusOK,
		Label:      strings.ToLower(label),
		Confidence: c,
		Target:     strings.TrimSpace(r.Target),
	}
}

// Available reports whether the circuit currently admits calls.
func (o *LLMOracle) Available() bool {
	return o.breaker.State() != llm.CircuitOpen
}

var _ Oracle = (*LLMOracle)(nil)
