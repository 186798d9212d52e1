package classifier

import (
	"context"

	"go.uber.org/zap"

	"emailagent/internal/model"
	"emailagent/pkg/logger"
)

// Outcome is one classification attempt. Cause is set when Verdict is a fallback.
type Outcome struct {
	Verdict  model.Verdict
	Fallback bool
	Cause    error
}

// Classifier runs prompt building, the model call, parsing and resolution.
type Classifier struct {
	gateway Gateway
	logger  *zap.Logger
}

func New(gateway Gateway, logger *zap.Logger) *Classifier {
	return &Classifier{gateway: gateway, logger: logger}
}

// Classify always produces a verdict. The error is non-nil only when ctx was
// cancelled by the caller, in which case no verdict should be stored.
func (c *Classifier) Classify(ctx context.Context, s model.EmailSummary) (Outcome, error) {
	log := logger.WithTrace(ctx, c.logger)

	text, err := c.gateway.Generate(ctx, BuildPrompt(s))
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Warn("Model call failed, using fallback verdict", zap.Error(err))
		return Outcome{Verdict: Fallback(err), Fallback: true, Cause: err}, nil
	}

	raw, err := ParseResponse(text)
	if err != nil {
		log.Warn("Model response not usable, using fallback verdict",
			zap.Error(err),
			zap.String("response", excerpt(text, 200)),
		)
		return Outcome{Verdict: Fallback(err), Fallback: true, Cause: err}, nil
	}

	return Outcome{Verdict: Resolve(raw)}, nil
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return clip(s, n) + "..."
}
