package media

import (
	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/outbound"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Tracker owns at most one transfer per message id. A media message
// rendered without a resolved URL asks the tracker for its transfer, which
// starts out waiting.
type Tracker struct {
	creds      Credentials
	downloader Downloader
	writer     *outbound.Writer
	bus        *bus.Bus
	logger     *zap.Logger
	transfers  *xsync.MapOf[string, *Transfer]
}

// NewTracker creates a transfer tracker.
func NewTracker(creds Credentials, d Downloader, w *outbound.Writer, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		creds:      creds,
		downloader: d,
		writer:     w,
		bus:        b,
		logger:     logger,
		transfers:  xsync.NewMapOf[string, *Transfer](),
	}
}

// Transfer returns the transfer for a message, creating it in the waiting
// state on first request.
func (tr *Tracker) Transfer(messageID string, mediaType MediaType) *Transfer {
	t, _ := tr.transfers.LoadOrCompute(messageID, func() *Transfer {
		return NewTransfer(messageID, mediaType, tr.creds, tr.downloader, tr.writer, tr.bus, tr.logger)
	})
	return t
}

// CloseAll abandons every tracked transfer. Used on daemon teardown.
func (tr *Tracker) CloseAll() {
	tr.transfers.Range(func(_ string, t *Transfer) bool {
		t.Close()
		return true
	})
}
