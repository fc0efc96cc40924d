package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

// ErrBreakerOpen is wrapped by calls rejected while a breaker is open or
// probing.
var ErrBreakerOpen = errors.New("circuit breaker open")

// minTripRequests keeps a single early failure from opening a breaker.
const minTripRequests = 3

func newBreaker(name string, cfg config.BreakerConfig, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minTripRequests && failureRatio >= cfg.TripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("circuit breaker tripped", zap.String("breaker", name), zap.Stringer("from", from))
				return
			}
			log.Info("circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		// a caller giving up is not a provider failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// BreakerClient guards an LLM and an embedder with independent breakers so
// a failing embedding endpoint does not block extraction, or the reverse.
type BreakerClient struct {
	llm      LLMClient
	embedder EmbedderClient
	genCB    *gobreaker.CircuitBreaker
	embedCB  *gobreaker.CircuitBreaker
}

func NewBreakerClient(name string, llmClient LLMClient, embedder EmbedderClient, cfg config.BreakerConfig, log *zap.Logger) *BreakerClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &BreakerClient{
		llm:      llmClient,
		embedder: embedder,
		genCB:    newBreaker(name+"-generate", cfg, log),
		embedCB:  newBreaker(name+"-embed", cfg, log),
	}
}

func (c *BreakerClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.genCB.Execute(func() (interface{}, error) {
		return c.llm.Generate(ctx, prompt)
	})
	if err != nil {
		return "", upstream(err, kgerr.CodeExtractionUpstream, c.genCB.Name())
	}
	return resp.(string), nil
}

func (c *BreakerClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.embedCB.Execute(func() (interface{}, error) {
		return c.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, upstream(err, kgerr.CodeEmbeddingUpstream, c.embedCB.Name())
	}
	return resp.([]float32), nil
}

// GenerateState and EmbedState report the breakers' current states.
func (c *BreakerClient) GenerateState() gobreaker.State { return c.genCB.State() }
func (c *BreakerClient) EmbedState() gobreaker.State    { return c.embedCB.State() }

func upstream(err error, code kgerr.Code, breaker string) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = errors.Join(ErrBreakerOpen, err)
	}
	return kgerr.Wrap(err, code, "upstream call failed", kgerr.Field("breaker", breaker))
}
