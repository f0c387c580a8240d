package signatures

import (
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// Table is a compiled control vocabulary
type Table struct {
	db *models.PatternDatabase
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{db: models.NewPatternDatabase()}
}

// Add compiles and adds a pattern, replacing one with the same ID
func (t *Table) Add(p *models.ControlPattern) error {
	return t.db.AddPattern(p)
}

// Get returns the pattern with the given ID
func (t *Table) Get(id string) (*models.ControlPattern, bool) {
	p, ok := t.db.ByID[id]
	return p, ok
}

// Patterns returns the enabled patterns of one kind in table order
func (t *Table) Patterns(kind models.ControlKind) []*models.ControlPattern {
	all := t.db.GetByKind(kind)
	out := make([]*models.ControlPattern, 0, len(all))
	for _, p := range all {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of patterns, disabled ones included
func (t *Table) Len() int {
	return len(t.db.Patterns)
}

var defaultPatterns = []models.ControlPattern{
	// Authentication calls
	{ID: "auth-next-session", Name: "NextAuth server session", Kind: models.ControlAuth, Pattern: `\bgetServerSession\s*\(`},
	{ID: "auth-next-auth", Name: "Auth.js / Clerk auth()", Kind: models.ControlAuth, Pattern: `(?:^|[^\w$.])auth\s*\(\s*\)`},
	{ID: "auth-session", Name: "Session lookup", Kind: models.ControlAuth, Pattern: `\bget(?:Iron)?Session\s*\(`},
	{ID: "auth-token", Name: "JWT token lookup", Kind: models.ControlAuth, Pattern: `\bgetToken\s*\(`},
	{ID: "auth-clerk", Name: "Clerk user", Kind: models.ControlAuth, Pattern: `\b(?:currentUser|getAuth)\s*\(`},
	{ID: "auth-supabase", Name: "Supabase user", Kind: models.ControlAuth, Pattern: `\.auth\.get(?:User|Session)\s*\(`},
	{ID: "auth-require", Name: "Auth guard helper", Kind: models.ControlAuth, Pattern: `\b(?:require|ensure)(?:Auth|User|Session|Admin|Login|Authenticated)\w*\s*\(`},
	{ID: "auth-wrapper", Name: "Auth wrapper", Kind: models.ControlAuth, Pattern: `\bwith(?:Auth|ApiAuthRequired|Session|User)\w*\s*\(`},
	{ID: "auth-jwt-verify", Name: "JWT verification", Kind: models.ControlAuth, Pattern: `\b(?:jwt\.verify|jwtVerify|verifyIdToken|verifyToken|verifyJwt)\s*\(`},
	{ID: "auth-validate-request", Name: "Lucia request validation", Kind: models.ControlAuth, Pattern: `\bvalidateRequest\s*\(`},
	{ID: "auth-kinde", Name: "Kinde session", Kind: models.ControlAuth, Pattern: `\bgetKindeServerSession\s*\(`},
	{ID: "auth-passport", Name: "Passport authenticate", Kind: models.ControlAuth, Pattern: `\bpassport\.authenticate\s*\(`},
	{ID: "auth-is-authenticated", Name: "Authenticated check", Kind: models.ControlAuth, Shape: models.ShapeCondition, Pattern: `\bisAuthenticated\s*\(`},
	{ID: "auth-subject-guard", Name: "Missing-subject guard", Kind: models.ControlAuth, Shape: models.ShapeCondition, Pattern: `\bif\s*\(\s*!\s*(?:session|user|userId|currentUser|token|authUser)\b`},

	// Validation
	{ID: "val-schema-parse", Name: "Schema parse", Kind: models.ControlValidation, Shape: models.ShapeAssignedCall, Pattern: `\.(?:safeParse|parse)(?:Async)?\s*\(`},
	{ID: "val-validate", Name: "Schema validate", Kind: models.ControlValidation, Shape: models.ShapeAssignedCall, Pattern: `\.validate(?:Sync|Async)?\s*\(`},
	{ID: "val-valibot", Name: "Valibot parse", Kind: models.ControlValidation, Shape: models.ShapeAssignedCall, Pattern: `\b(?:safeParse|parse)\s*\(\s*[A-Za-z_$][\w$]*[Ss]chema\b`},
	{ID: "val-class-validator", Name: "class-validator", Kind: models.ControlValidation, Shape: models.ShapeCall, Pattern: `\bvalidateOrReject\s*\(`},
	{ID: "val-condition", Name: "Validator guard", Kind: models.ControlValidation, Shape: models.ShapeCondition, Pattern: `\bif\s*\(\s*!?\s*(?:[\w$]+\.)?(?:validate|isValid)\w*\s*\(`},

	// Rate limiting
	{ID: "rate-upstash", Name: "Upstash ratelimit", Kind: models.ControlRateLimit, Pattern: `\b(?:ratelimit|rateLimiter|limiter)\.(?:limit|check|consume)\s*\(`},
	{ID: "rate-helper", Name: "Rate limit helper", Kind: models.ControlRateLimit, Pattern: `\b(?:checkRateLimit|rateLimit|applyRateLimit|withRateLimit|throttle|slowDown)\s*\(`},
}

// DefaultTable returns the built-in vocabulary
func DefaultTable() *Table {
	t := NewTable()
	for i := range defaultPatterns {
		p := defaultPatterns[i]
		if err := t.Add(&p); err != nil {
			panic(err)
		}
	}
	return t
}
