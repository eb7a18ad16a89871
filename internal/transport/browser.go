package transport

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
	"github.com/pizza-nz/print-agent/internal/models"
)

var printDocument = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: 'Courier New', monospace; font-size: 12px; margin: 0; padding: 10px; }
pre { white-space: pre-wrap; margin: 0; }
</style>
</head>
<body>
<pre>{{.Text}}</pre>
<script>window.onload = function () { window.print(); };</script>
</body>
</html>
`))

// CommandRunner runs an external print command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Browser is the fallback used when no physical printer is connected. It
// spools the ticket text as a print-preview HTML document and, when a print
// command is configured, hands the document to it.
type Browser struct {
	cfg    config.Browser
	render func([]byte) string
	run    CommandRunner
	now    func() time.Time
	logger *zap.Logger
}

// NewBrowser returns a browser-print transport. render turns ESC/POS bytes
// into the text shown in the document.
func NewBrowser(cfg config.Browser, render func([]byte) string, logger *zap.Logger) *Browser {
	return &Browser{
		cfg:    cfg,
		render: render,
		run:    runCommand,
		now:    time.Now,
		logger: logger.Named("browser"),
	}
}

func (b *Browser) Kind() models.BackendKind { return models.BackendBrowser }

func (b *Browser) Connect(ctx context.Context, dev models.DeviceInfo) (Capabilities, error) {
	return Capabilities{}, nil
}

func (b *Browser) Disconnect(ctx context.Context) error { return nil }

func (b *Browser) OnUnexpectedDisconnect(fn func(error)) {}

// Send writes the print document and runs the print command, if any.
func (b *Browser) Send(ctx context.Context, payload []byte) error {
	path, err := b.spool(payload)
	if err != nil {
		return opError(models.BackendBrowser, "spool", err)
	}

	if len(b.cfg.Command) > 0 {
		args := append(append([]string(nil), b.cfg.Command[1:]...), path)
		if err := b.run(ctx, b.cfg.Command[0], args...); err != nil {
			return opError(models.BackendBrowser, "print", err)
		}
	}
	b.logger.Info("ticket spooled", zap.String("path", path))
	return nil
}

// Print is Send for callers that must not fail: errors are logged and
// reported as false.
func (b *Browser) Print(ctx context.Context, payload []byte) bool {
	if err := b.Send(ctx, payload); err != nil {
		b.logger.Error("browser print failed", zap.Error(err))
		return false
	}
	return true
}

func (b *Browser) spool(payload []byte) (string, error) {
	if err := os.MkdirAll(b.cfg.SpoolDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("ticket-%s-%s.html", b.now().Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(b.cfg.SpoolDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data := struct {
		Title string
		Text  string
	}{
		Title: b.cfg.Title,
		Text:  b.render(payload),
	}
	if err := printDocument.Execute(f, data); err != nil {
		return "", err
	}
	return path, f.Close()
}
