package export

import (
	"context"
	"fmt"

	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/metrics"
)

type Options struct {
	Renderer PDFRenderer
	Archive  *Archive
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// Service provides report export functionality
type Service struct {
	renderer PDFRenderer
	archive  *Archive
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new export service
func NewService(opts Options) *Service {
	if opts.Renderer == nil {
		opts.Renderer = ChromeRenderer(0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Service{
		renderer: opts.Renderer,
		archive:  opts.Archive,
		logger:   opts.Logger.With("component", "export"),
		metrics:  opts.Metrics,
	}
}

// Export renders the table in the requested format. When an archive is
// configured the file is also uploaded; an upload failure is logged and does
// not fail the export.
func (s *Service) Export(ctx context.Context, t Table, format Format) (*Result, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = RenderCSV(t)
	case FormatPDF:
		data, err = s.renderPDF(ctx, t)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Data:     data,
		Filename: fmt.Sprintf("%s-%s.%s", sanitizeFilename(string(t.Kind)), t.GeneratedAt.Format("2006-01-02"), format.Extension()),
		MimeType: format.MimeType(),
	}
	s.metrics.ReportGenerated(string(t.Kind), string(format))

	if s.archive != nil {
		key, err := s.archive.Put(ctx, t.Kind, t.GeneratedAt, format, res)
		if err != nil {
			s.logger.Warn("archive report", "kind", t.Kind, "error", err)
		} else {
			res.ArchiveKey = key
			s.logger.Info("report archived", "key", key)
		}
	}
	return res, nil
}

func (s *Service) renderPDF(ctx context.Context, t Table) ([]byte, error) {
	html, err := RenderReportHTML(t)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	data, err := s.renderer(ctx, html)
	if err != nil {
		return nil, err
	}
	return data, nil
}
