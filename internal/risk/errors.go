package risk

import "github.com/riskdesk/risk-engine/internal/model"

// Error kinds returned by the risk engine. They are the shared model
// sentinels so that errors from valuation and return loading match too.
var (
	ErrInvalidArgument  = model.ErrInvalidArgument
	ErrDataUnavailable  = model.ErrDataUnavailable
	ErrInsufficientData = model.ErrInsufficientData
)
