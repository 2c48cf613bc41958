package invoice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/imrishuroy/textile-storefront/internal/apierr"
)

// MaxHTMLBytes caps client-supplied invoice HTML.
const MaxHTMLBytes = 2 << 20

// Publisher stores a rendered invoice and returns a download URL.
type Publisher interface {
	Put(ctx context.Context, orderID string, pdf []byte) (string, error)
}

// Service renders invoices on request.
type Service struct {
	assembler *Assembler
	renderer  Renderer
	publisher Publisher
	log       *slog.Logger
}

// NewService wires the invoice pipeline. publisher may be nil when no bucket
// is configured.
func NewService(a *Assembler, r Renderer, p Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{assembler: a, renderer: r, publisher: p, log: logger.With("component", "invoice")}
}

// Data returns the invoice data for an order, checking that the requester may
// see it.
func (s *Service) Data(ctx context.Context, orderID, requester string, admin bool) (*Data, error) {
	d, err := s.assembler.Assemble(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && d.Order.UserID != requester {
		return nil, apierr.Forbidden("not allowed to access this invoice")
	}
	return d, nil
}

// Generate renders an order's invoice to PDF. A non-empty html is printed
// as given; otherwise the built-in template is used.
func (s *Service) Generate(ctx context.Context, orderID, requester string, admin bool, html string) ([]byte, error) {
	if len(html) > MaxHTMLBytes {
		return nil, apierr.Validation("htmlContent exceeds 2MB")
	}
	d, err := s.Data(ctx, orderID, requester, admin)
	if err != nil {
		return nil, err
	}
	if html == "" {
		if html, err = RenderHTML(d); err != nil {
			return nil, err
		}
	}
	pdf, err := s.renderer.Render(ctx, html)
	if err != nil {
		s.log.ErrorContext(ctx, "invoice rendering failed", "order_id", orderID, "html_bytes", len(html), "error", err)
		return nil, apierr.Wrap(apierr.KindInternal, "error generating invoice", err)
	}
	return pdf, nil
}

// Store uploads a rendered invoice and returns its download URL.
func (s *Service) Store(ctx context.Context, orderID string, pdf []byte) (string, error) {
	if s.publisher == nil {
		return "", apierr.Wrap(apierr.KindUpstream, "invoice storage is not configured", errors.New("no invoice bucket"))
	}
	url, err := s.publisher.Put(ctx, orderID, pdf)
	if err != nil {
		return "", apierr.Wrap(apierr.KindUpstream, "invoice could not be stored", err)
	}
	return url, nil
}
