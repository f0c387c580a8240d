package report

import (
	"encoding/json"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// renderJSON writes the policy report document itself, normalizing nil lists
// so consumers always see arrays
func renderJSON(rep *models.PolicyReport) ([]byte, error) {
	out := *rep
	if out.Reasons == nil {
		out.Reasons = []models.PolicyReason{}
	}
	if out.Overrides == nil {
		out.Overrides = []models.Override{}
	}
	if out.ActiveFindings == nil {
		out.ActiveFindings = []models.ActiveFinding{}
	}
	if out.WaivedFindings == nil {
		out.WaivedFindings = []models.WaivedFinding{}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
