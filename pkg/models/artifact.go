package models

// Artifact versions understood by this build
const (
	ArtifactVersionCurrent = "0.3"
)

// SupportedArtifactVersions lists every artifact version that can be evaluated
var SupportedArtifactVersions = []string{"0.1", "0.2", "0.3"}

// ScanArtifact is the complete output of one scan and the input to evaluation
type ScanArtifact struct {
	ArtifactVersion string                `json:"artifactVersion"`
	GeneratedAt     string                `json:"generatedAt,omitempty"`
	Tool            ToolInfo              `json:"tool"`
	Repo            *RepoInfo             `json:"repo,omitempty"`
	Summary         ArtifactSummary       `json:"summary"`
	Findings        []Finding             `json:"findings"`
	RouteMap        *RouteMap             `json:"routeMap,omitempty"`
	MiddlewareMap   *MiddlewareMap        `json:"middlewareMap,omitempty"`
	ProofTraces     map[string]ProofTrace `json:"proofTraces,omitempty"`
	Metrics         *ScanMetrics          `json:"metrics,omitempty"`
}

// ToolInfo identifies the producer of an artifact
type ToolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RepoInfo describes the scanned source tree
type RepoInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"rootPath,omitempty"`
}

// ArtifactSummary contains finding counts by severity and category
type ArtifactSummary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByCategory map[Category]int `json:"byCategory"`
}

// ScanMetrics contains scan statistics
type ScanMetrics struct {
	FilesScanned  int   `json:"filesScanned"`
	FilesSkipped  int   `json:"filesSkipped"`
	ParseFailures int   `json:"parseFailures"`
	RoutesFound   int   `json:"routesFound"`
	RulePacksRun  int   `json:"rulePacksRun"`
	DurationMs    int64 `json:"durationMs"`
	WorkersUsed   int   `json:"workersUsed"`
}

// Routes returns the resolved route list, or nil when none was recorded
func (a *ScanArtifact) Routes() []Route {
	if a.RouteMap == nil {
		return nil
	}
	return a.RouteMap.Routes
}

// Middleware returns the resolved middleware facts, or nil when none were recorded
func (a *ScanArtifact) Middleware() []MiddlewareFacts {
	if a.MiddlewareMap == nil {
		return nil
	}
	return a.MiddlewareMap.Middleware
}

// NewArtifactSummary counts findings by severity and category
func NewArtifactSummary(findings []Finding) ArtifactSummary {
	s := ArtifactSummary{
		Total:      len(findings),
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
	}
	for _, sev := range AllSeverities {
		s.BySeverity[sev] = 0
	}
	for i := range findings {
		s.BySeverity[findings[i].Severity]++
		s.ByCategory[findings[i].Category]++
	}
	return s
}
