package pipeline

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

var ErrInvalidSubmission = errors.New("invalid submission")

// classifyProcessorCode maps a processor failure onto the error taxonomy
// recorded on the job row.
func classifyProcessorCode(err error) string {
	if errors.Is(err, models.ErrProcessorTimeout) {
		return models.ErrorCodeProcessorTimeout
	}
	return models.ErrorCodeProcessorError
}

// validateResult rejects processor output the rest of the pipeline cannot
// use. Validation failures are terminal for the job, not retried.
func validateResult(result *models.ResultSummary) error {
	if result == nil {
		return fmt.Errorf("processor returned no result")
	}
	if result.Summary == "" && len(result.Tags) == 0 && result.EntityCount == 0 {
		return fmt.Errorf("processor returned an empty result")
	}
	return nil
}
