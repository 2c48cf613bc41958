package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

const (
	viewportWidth  = 1200
	viewportHeight = 1600

	// A4 in inches, margins of 10mm.
	a4Width  = 8.27
	a4Height = 11.69
	margin   = 10 / 25.4

	// Upper bound on waiting for networkIdle once the invoice markup is in place.
	idleGrace = 3 * time.Second
)

// ErrEmptyPDF is returned when the browser produced no output.
var ErrEmptyPDF = errors.New("generated PDF is empty")

// launchError marks a failure to start the browser, as opposed to a failure
// while rendering.
type launchError struct{ err error }

func (e *launchError) Error() string { return "launch browser: " + e.err.Error() }
func (e *launchError) Unwrap() error { return e.err }

// ChromeRenderer prints HTML to PDF with headless Chrome. Each call starts its
// own browser.
type ChromeRenderer struct {
	execPath string
	timeout  time.Duration
	log      *slog.Logger
	run      func(ctx context.Context, execPath, html string) ([]byte, error)
}

// NewChromeRenderer returns a renderer. execPath is the browser binary tried
// when the default lookup fails to launch; timeout bounds each render.
func NewChromeRenderer(execPath string, timeout time.Duration, logger *slog.Logger) *ChromeRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ChromeRenderer{
		execPath: execPath,
		timeout:  timeout,
		log:      logger.With("component", "invoice-renderer"),
	}
	r.run = r.runChrome
	return r
}

func (r *ChromeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	start := time.Now()
	pdf, err := r.run(ctx, "", html)
	var le *launchError
	if errors.As(err, &le) && r.execPath != "" {
		r.log.WarnContext(ctx, "default browser failed to launch, retrying with configured path", "exec_path", r.execPath, "error", err)
		pdf, err = r.run(ctx, r.execPath, html)
	}
	if err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, ErrEmptyPDF
	}
	r.log.InfoContext(ctx, "invoice rendered", "bytes", len(pdf), "html_bytes", len(html), "elapsed", time.Since(start))
	return pdf, nil
}

func (r *ChromeRenderer) runChrome(ctx context.Context, execPath, html string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	if err := chromedp.Run(taskCtx); err != nil {
		return nil, &launchError{err: err}
	}

	idle := newIdleWatch()
	chromedp.ListenTarget(taskCtx, idle.observe)

	var pdf []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
				return fmt.Errorf("enable lifecycle events: %w", err)
			}
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
				return fmt.Errorf("set document content: %w", err)
			}
			idle.arm(tree.Frame.ID)
			select {
			case <-idle.done():
				return nil
			case <-time.After(idleGrace):
				r.log.DebugContext(ctx, "no network idle event after setting content, printing anyway")
				return nil
			case <-ctx.Done():
				return fmt.Errorf("wait for network idle: %w", ctx.Err())
			}
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4Width).
				WithPaperHeight(a4Height).
				WithMarginTop(margin).
				WithMarginRight(margin).
				WithMarginBottom(margin).
				WithMarginLeft(margin).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// idleWatch reports the first networkIdle lifecycle event of a frame seen
// after arm. Events that arrive earlier belong to the blank page the invoice
// replaces and are dropped.
type idleWatch struct {
	mu    sync.Mutex
	frame cdp.FrameID
	armed bool
	once  sync.Once
	ch    chan struct{}
}

func newIdleWatch() *idleWatch {
	return &idleWatch{ch: make(chan struct{})}
}

func (w *idleWatch) arm(frame cdp.FrameID) {
	w.mu.Lock()
	w.frame = frame
	w.armed = true
	w.mu.Unlock()
}

func (w *idleWatch) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "networkIdle" {
		return
	}
	w.mu.Lock()
	match := w.armed && e.FrameID == w.frame
	w.mu.Unlock()
	if match {
		w.once.Do(func() { close(w.ch) })
	}
}

func (w *idleWatch) done() <-chan struct{} { return w.ch }
