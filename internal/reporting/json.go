package reporting

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReporter writes the report as indented JSON.
type jsonReporter struct {
	base
}

func newJSONReporter(writer io.WriteCloser) *jsonReporter {
	return &jsonReporter{base: newBase(writer, "json_reporter")}
}

func (r *jsonReporter) Write(report *schemas.BatchReport) error {
	if report == nil {
		return errors.New("nil report")
	}
	return r.write(func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			r.logger.Error("Failed to encode report to JSON.", zap.Error(err))
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
		return nil
	})
}
