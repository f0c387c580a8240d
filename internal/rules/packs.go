package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/internal/parser"
	"github.com/quantracode/VibeCheck-sub002/internal/prooftrace"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	regexp "github.com/wasilibs/go-re2"
)

// Built-in rule ids
const (
	RuleMissingAuth       = "VC-AUTH-001"
	RuleMissingValidation = "VC-VAL-001"
	RuleUncoveredRoute    = "VC-MW-001"
	RuleMissingRateLimit  = "VC-RATE-001"
)

var (
	bodyReadRe      = regexp.MustCompile(`\.(?:json|formData|text)\s*\(\s*\)|\breq(?:uest)?\.body\b`)
	credentialRoute = regexp.MustCompile(`(?i)/(?:login|log-in|signin|sign-in|signup|sign-up|register|otp|verify|reset-password|forgot-password|password|token|magic-link)(?:/|$)`)
)

// AuthPack flags state-changing routes with no proven authentication
type AuthPack struct {
	*BaseRulePack
}

func NewAuthPack() *AuthPack {
	return &AuthPack{BaseRulePack: NewBaseRulePack("auth", 100)}
}

func (p *AuthPack) Run(ctx context.Context, in *Input) ([]models.Finding, error) {
	var out []models.Finding
	for _, route := range in.Routes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !stateChanging(route.Method) {
			continue
		}
		trace := in.Traces[route.RouteID]
		if trace.AuthProven || trace.MiddlewareCovered {
			continue
		}
		confidence := 0.8
		if route.Method == "ALL" {
			confidence = 0.6
		}
		f := routeFinding(route, in.Handler(ctx, route))
		f.RuleID = RuleMissingAuth
		f.Title = fmt.Sprintf("%s %s has no proven authentication", route.Method, route.Path)
		f.Description = "No session, token or auth helper call was found in the handler or the modules it imports, and no middleware matcher covers the route."
		f.Severity = models.SeverityHigh
		f.Confidence = confidence
		f.Category = models.CategoryAuth
		f.Remediation = models.Remediation{
			RecommendedFix: "Check the session at the top of the handler and return 401 when it is missing, or cover the path with an auth middleware matcher.",
		}
		out = append(out, f)
	}
	return out, nil
}

// ValidationPack flags handlers that read a request body without validating it
type ValidationPack struct {
	*BaseRulePack
}

func NewValidationPack() *ValidationPack {
	return &ValidationPack{BaseRulePack: NewBaseRulePack("validation", 90)}
}

func (p *ValidationPack) Run(ctx context.Context, in *Input) ([]models.Finding, error) {
	var out []models.Finding
	for _, route := range in.Routes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !acceptsBody(route.Method) {
			continue
		}
		trace := in.Traces[route.RouteID]
		if trace.ValidationProven {
			continue
		}
		fn := in.Handler(ctx, route)
		if fn == nil {
			continue
		}
		read := bodyRead(fn.Lines)
		if read == nil {
			continue
		}
		f := routeFinding(route, fn)
		f.RuleID = RuleMissingValidation
		f.Title = fmt.Sprintf("%s %s uses the request body without validation", route.Method, route.Path)
		f.Description = "The handler reads the request body but no schema parse or validation call whose result is used was found."
		f.Severity = models.SeverityMedium
		f.Confidence = 0.7
		f.Category = models.CategoryValidation
		f.Evidence = append(f.Evidence, models.Evidence{
			File:      route.File,
			StartLine: read.No,
			Snippet:   strings.TrimSpace(read.Text),
			Label:     "body read",
		})
		f.Remediation = models.Remediation{
			RecommendedFix: "Parse the body with a schema (for example zod's safeParse) and use the parsed value instead of the raw body.",
		}
		out = append(out, f)
	}
	return out, nil
}

func bodyRead(lines []parser.Line) *parser.Line {
	for i := range lines {
		if bodyReadRe.MatchString(lines[i].Code) {
			return &lines[i]
		}
	}
	return nil
}

// MiddlewarePack flags API routes that no middleware matcher covers when
// the project has middleware at all
type MiddlewarePack struct {
	*BaseRulePack
}

func NewMiddlewarePack() *MiddlewarePack {
	return &MiddlewarePack{BaseRulePack: NewBaseRulePack("middleware", 80)}
}

func (p *MiddlewarePack) Run(ctx context.Context, in *Input) ([]models.Finding, error) {
	if len(in.Middleware) == 0 {
		return nil, nil
	}
	var out []models.Finding
	for _, route := range in.Routes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if route.Path != "/api" && !strings.HasPrefix(route.Path, "/api/") {
			continue
		}
		if _, _, ok := prooftrace.MiddlewareCoverage(route.Path, in.Middleware); ok {
			continue
		}
		f := routeFinding(route, in.Handler(ctx, route))
		f.RuleID = RuleUncoveredRoute
		f.Title = fmt.Sprintf("%s %s is outside every middleware matcher", route.Method, route.Path)
		f.Description = "The project declares middleware, but none of its matchers include this API route."
		f.Severity = models.SeverityLow
		f.Confidence = 0.6
		f.Category = models.CategoryMiddleware
		for _, mw := range in.Middleware {
			f.Evidence = append(f.Evidence, models.Evidence{
				File:    mw.File,
				Snippet: strings.Join(mw.Matchers, ", "),
				Label:   "middleware matchers",
			})
		}
		f.Remediation = models.Remediation{
			RecommendedFix: "Add the route path to the middleware matcher list, or protect the handler directly.",
		}
		out = append(out, f)
	}
	return out, nil
}

// RateLimitPack flags credential and one-time-code routes without rate limiting
type RateLimitPack struct {
	*BaseRulePack
}

func NewRateLimitPack() *RateLimitPack {
	return &RateLimitPack{BaseRulePack: NewBaseRulePack("ratelimit", 70)}
}

func (p *RateLimitPack) Run(ctx context.Context, in *Input) ([]models.Finding, error) {
	var out []models.Finding
	for _, route := range in.Routes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !acceptsBody(route.Method) || !credentialRoute.MatchString(route.Path) {
			continue
		}
		fn := in.Handler(ctx, route)
		if fn == nil || in.Table == nil {
			continue
		}
		if _, ok := in.Table.FindRateLimit(fn.Masked(), fn.StartLine); ok {
			continue
		}
		f := routeFinding(route, fn)
		f.RuleID = RuleMissingRateLimit
		f.Title = fmt.Sprintf("%s %s accepts credentials without rate limiting", route.Method, route.Path)
		f.Description = "Credential, password reset and one-time-code endpoints can be brute forced when requests are not rate limited."
		f.Severity = models.SeverityMedium
		f.Confidence = 0.6
		f.Category = models.CategoryAbuse
		f.Remediation = models.Remediation{
			RecommendedFix: "Limit attempts per client and per account before doing any credential work.",
		}
		out = append(out, f)
	}
	return out, nil
}
