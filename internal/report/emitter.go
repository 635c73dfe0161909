// internal/report/emitter.go
package report

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
)

// unknownMarker is printed for expiry values that were never read.
const unknownMarker = "Unknown"

// Emitter persists the run report as a small fixed-layout markdown file,
// fully replacing any prior report. Emission is best-effort diagnostics; a
// write failure is logged by the caller, never propagated as a run failure.
type Emitter struct {
	path   string
	logger *zap.Logger
}

// NewEmitter writes reports to path.
func NewEmitter(path string, logger *zap.Logger) *Emitter {
	return &Emitter{
		path:   path,
		logger: logger.Named("report"),
	}
}

// Render produces the report body. Deterministic for a given RunReport so
// repeated emission yields byte-identical files.
func Render(r schemas.RunReport) string {
	var b strings.Builder

	generated := r.GeneratedAt.In(schemas.ReportTimeZone).Format("2006-01-02 15:04:05")
	fmt.Fprintf(&b, "**Last run**: `%s`\n\n", generated)

	outcome := r.Outcome
	if outcome == "" {
		outcome = schemas.OutcomeUnknown
	}
	fmt.Fprintf(&b, "Renewal outcome: `%s`\n", outcome)

	oldExpiry := unknownMarker
	if r.OldExpiry.IsSet() {
		oldExpiry = r.OldExpiry.Value
	}
	fmt.Fprintf(&b, "Old expiry: `%s`\n", oldExpiry)

	if r.NewExpiry.IsSet() {
		fmt.Fprintf(&b, "New expiry: `%s`\n", r.NewExpiry.Value)
	}

	return b.String()
}

// Emit writes the report file, overwriting the previous run's report.
func (e *Emitter) Emit(r schemas.RunReport) error {
	body := Render(r)
	if err := os.WriteFile(e.path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write run report %s: %w", e.path, err)
	}
	e.logger.Info("Run report written.",
		zap.String("path", e.path),
		zap.String("outcome", string(r.Outcome)))
	return nil
}
