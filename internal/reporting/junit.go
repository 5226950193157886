package reporting

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// junitReporter renders one testcase per site so CI dashboards can show the run.
// Failure maps to <failure>, Unknown to <skipped>.
type junitReporter struct {
	base
}

func newJUnitReporter(writer io.WriteCloser) *junitReporter {
	return &junitReporter{base: newBase(writer, "junit_reporter")}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func (r *junitReporter) Write(report *schemas.BatchReport) error {
	if report == nil {
		return errors.New("nil report")
	}
	doc := BuildJUnit(report)
	return r.write(func(w io.Writer) error {
		if _, err := doc.WriteTo(w); err != nil {
			r.logger.Error("Failed to write JUnit report.", zap.Error(err))
			return fmt.Errorf("failed to write JUnit output: %w", err)
		}
		return nil
	})
}

// BuildJUnit converts a report into a JUnit XML document.
func BuildJUnit(report *schemas.BatchReport) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	elapsed := report.FinishedAt.Sub(report.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	suites := doc.CreateElement("testsuites")
	suites.CreateAttr("name", "consoledeploy")
	suites.CreateAttr("tests", strconv.Itoa(report.Summary.Total))
	suites.CreateAttr("failures", strconv.Itoa(report.Summary.Failure))
	suites.CreateAttr("skipped", strconv.Itoa(report.Summary.Unknown))
	suites.CreateAttr("time", seconds(elapsed))

	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", report.Mode.String())
	suite.CreateAttr("id", report.RunID)
	suite.CreateAttr("tests", strconv.Itoa(report.Summary.Total))
	suite.CreateAttr("failures", strconv.Itoa(report.Summary.Failure))
	suite.CreateAttr("errors", "0")
	suite.CreateAttr("skipped", strconv.Itoa(report.Summary.Unknown))
	suite.CreateAttr("time", seconds(elapsed))
	if !report.StartedAt.IsZero() {
		suite.CreateAttr("timestamp", report.StartedAt.UTC().Format(time.RFC3339))
	}

	for _, res := range report.Results {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", res.URL)
		tc.CreateAttr("name", res.SiteID)
		tc.CreateAttr("time", seconds(res.Duration()))

		switch res.Outcome {
		case schemas.OutcomeFailure:
			f := tc.CreateElement("failure")
			f.CreateAttr("message", res.Reason)
			f.CreateAttr("type", res.Outcome.String())
			f.SetText(res.Reason)
		case schemas.OutcomeUnknown:
			s := tc.CreateElement("skipped")
			s.CreateAttr("message", res.Reason)
		}
	}
	doc.Indent(2)
	return doc
}
