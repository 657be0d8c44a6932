package checker

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Phase is the check logic behind one capability of a module.
type Phase interface {
	Run(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error)
}

// Template is a poc.Checker assembled from declarative phases. Attack is
// optional.
type Template struct {
	VerifyPhase Phase
	AttackPhase Phase
}

func (tp *Template) Verify(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
	if tp.VerifyPhase == nil {
		return poc.Verdict{}, fmt.Errorf("%w: verify phase", sharedErrors.ErrMissingRequired)
	}
	return tp.VerifyPhase.Run(ctx, t, cfg)
}

func (tp *Template) Attack(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
	if tp.AttackPhase == nil {
		return poc.Verdict{}, sharedErrors.ErrModeUnsupported
	}
	return tp.AttackPhase.Run(ctx, t, cfg)
}

// Capabilities derives the capability set from the phases present.
func (tp *Template) Capabilities() poc.Capability {
	var c poc.Capability
	if tp.VerifyPhase != nil {
		c |= poc.CapVerify
	}
	if tp.AttackPhase != nil {
		c |= poc.CapAttack
	}
	return c
}

// capEvidence truncates string evidence to the capture limit without
// splitting a UTF-8 sequence.
func capEvidence(v any) any {
	switch e := v.(type) {
	case string:
		return truncateUTF8(e, constants.EvidenceCaptureLimitBytes)
	case []byte:
		return truncateUTF8(string(e), constants.EvidenceCaptureLimitBytes)
	}
	return v
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
