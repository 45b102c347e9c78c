package permission

import (
	"context"
	"fmt"
	"log/slog"
)

type Outcome int

const (
	Allowed Outcome = iota
	DeniedNoRule
	DeniedScopeMismatch
	DeniedFetchFailed
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case DeniedNoRule:
		return "denied_no_rule"
	case DeniedScopeMismatch:
		return "denied_scope_mismatch"
	case DeniedFetchFailed:
		return "denied_fetch_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the result of evaluating one code for one role. Every outcome
// other than Allowed denies; Err is set for DeniedFetchFailed.
type Decision struct {
	Outcome Outcome
	Role    string
	Code    string
	Err     error
}

func (d Decision) Allowed() bool {
	return d.Outcome == Allowed
}

type Evaluator struct {
	source RuleSource
	logger *slog.Logger
}

func NewEvaluator(source RuleSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		source: source,
		logger: logger,
	}
}

func (e *Evaluator) IsAllowed(ctx context.Context, role, appID, code string, sc Context) bool {
	return e.Evaluate(ctx, role, appID, code, sc).Allowed()
}

// Evaluate decides whether role holds code under sc.
func (e *Evaluator) Evaluate(ctx context.Context, role, appID, code string, sc Context) Decision {
	normalized := NormalizeCode(appID, code)
	decision := Decision{Role: role, Code: normalized}

	if role == "" {
		decision.Outcome = DeniedNoRule
		return decision
	}

	rules, err := e.source.LoadRoleRules(ctx, role)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to load role permissions", "role", role, "code", normalized, "error", err)
		decision.Outcome = DeniedFetchFailed
		decision.Err = fmt.Errorf("%w: %v", ErrFetchFailed, err)
		return decision
	}

	var matching []RuleEntry
	needsSiteType, needsAreaKind := false, false
	for _, rule := range rules {
		if rule.Code != normalized {
			continue
		}
		matching = append(matching, rule)
		switch rule.ScopeType {
		case ScopeSiteType:
			needsSiteType = true
		case ScopeAreaKind:
			needsAreaKind = true
		}
	}
	if len(matching) == 0 {
		decision.Outcome = DeniedNoRule
		return decision
	}

	meta, metaErr := e.resolveMetadata(ctx, sc, needsSiteType, needsAreaKind)

	for _, rule := range matching {
		if Matches(rule, sc, meta) {
			decision.Outcome = Allowed
			return decision
		}
	}

	if metaErr != nil {
		decision.Outcome = DeniedFetchFailed
		decision.Err = fmt.Errorf("%w: %v", ErrFetchFailed, metaErr)
		return decision
	}
	decision.Outcome = DeniedScopeMismatch
	return decision
}

// resolveMetadata looks up only what the candidate rules need. A failed
// lookup leaves the field empty, which no categorical rule matches.
func (e *Evaluator) resolveMetadata(ctx context.Context, sc Context, needsSiteType, needsAreaKind bool) (Metadata, error) {
	var meta Metadata
	var firstErr error

	if needsSiteType && sc.SiteID != "" {
		siteType, err := e.source.SiteType(ctx, sc.SiteID)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to resolve site type", "site_id", sc.SiteID, "error", err)
			firstErr = err
		}
		meta.SiteType = siteType
	}

	if needsAreaKind && sc.AreaID != "" {
		areaKind, err := e.source.AreaKind(ctx, sc.AreaID)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to resolve area kind", "area_id", sc.AreaID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		meta.AreaKind = areaKind
	}

	return meta, firstErr
}
