package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Exporter stores a rendered report and returns where it went.
type Exporter interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Report is the downloadable form of the diagnostics state.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Snapshot    Snapshot  `json:"snapshot"`
	Errors      []Entry   `json:"errors"`
}

// Report builds a report with the full error log.
func (c *Collector) Report() Report {
	return Report{
		ID:          uuid.NewString(),
		GeneratedAt: c.clock.Now(),
		Snapshot:    c.Snapshot(),
		Errors:      c.Recent(0),
	}
}

// ReportKey returns the object key of a report: diagnostics/{yyyy-mm-dd}/{id}.json.
func ReportKey(r Report) string {
	return path.Join("diagnostics", r.GeneratedAt.UTC().Format("2006-01-02"), r.ID+".json")
}

// Export renders a report as indented JSON and hands it to exp.
func (c *Collector) Export(ctx context.Context, exp Exporter) (string, error) {
	r := c.Report()
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	location, err := exp.Upload(ctx, ReportKey(r), "application/json", body)
	if err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	c.logger.Info("diagnostics exported", zap.String("report_id", r.ID), zap.String("location", location))
	return location, nil
}
