package media

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/outbound"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"go.uber.org/zap"
)

// Status is a media transfer lifecycle state.
type Status string

const (
	StatusWaiting     Status = "WAITING"
	StatusDownloading Status = "DOWNLOADING"
	StatusProcessing  Status = "PROCESSING"
	StatusComplete    Status = "COMPLETE"
	StatusError       Status = "ERROR"
)

// validTransitions defines allowed transfer state transitions. Complete is
// terminal; error is recoverable via retry.
var validTransitions = map[Status][]Status{
	StatusWaiting:     {StatusDownloading, StatusError},
	StatusDownloading: {StatusProcessing, StatusComplete, StatusError},
	StatusProcessing:  {StatusComplete, StatusError},
	StatusError:       {StatusDownloading},
	StatusComplete:    {},
}

// MediaType is the kind of media carried by a message.
type MediaType string

const (
	TypeImage    MediaType = "image"
	TypeAudio    MediaType = "audio"
	TypeVideo    MediaType = "video"
	TypeDocument MediaType = "document"
)

// Credentials are the transport inputs required to trigger a download.
type Credentials struct {
	InstanceID    string
	InstanceToken string
}

// Snapshot is the UI projection of one transfer.
type Snapshot struct {
	MessageID  string
	MediaType  MediaType
	Status     Status
	Progress   int // 0..100
	ErrMessage string
	URL        string
}

const progressTick = 200 * time.Millisecond

// Transfer models one server-mediated media download. Each message has at
// most one transfer, owned by its tracker; nothing mutates it concurrently
// except through its methods. While downloading, a synthetic progress curve
// rises monotonically and decelerates toward (but never reaches) 100 until
// the real completion supersedes it.
type Transfer struct {
	messageID  string
	mediaType  MediaType
	creds      Credentials
	downloader Downloader
	writer     *outbound.Writer
	bus        *bus.Bus
	logger     *zap.Logger

	mu       sync.Mutex
	status   Status
	progress float64
	errMsg   string
	url      string
	gen      uint64
	closed   bool
}

// NewTransfer creates a transfer in the waiting state.
func NewTransfer(messageID string, mediaType MediaType, creds Credentials, d Downloader, w *outbound.Writer, b *bus.Bus, logger *zap.Logger) *Transfer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{
		messageID:  messageID,
		mediaType:  mediaType,
		creds:      creds,
		downloader: d,
		writer:     w,
		bus:        b,
		logger:     logger,
		status:     StatusWaiting,
	}
}

// Snapshot returns the current projection.
func (t *Transfer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Start triggers the download, either automatically on a server completion
// signal or manually by the user. A transfer that is already downloading,
// processing or complete ignores the call. Missing inputs fail immediately
// with a descriptive reason, without attempting the call.
func (t *Transfer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.closed || (t.status != StatusWaiting && t.status != StatusError) {
		t.mu.Unlock()
		return
	}
	if reason := t.missingInput(); reason != "" {
		t.failLocked(reason)
		t.mu.Unlock()
		return
	}
	_ = t.transitionLocked(StatusDownloading)
	t.errMsg = ""
	t.progress = 0
	t.gen++
	gen := t.gen
	t.publishLocked()
	t.mu.Unlock()

	go t.advanceProgress(ctx, gen)
	go t.attempt(ctx, gen)
}

// Retry re-enters the download path from the error state, clearing the
// previous error message.
func (t *Transfer) Retry(ctx context.Context) {
	t.Start(ctx)
}

// Close abandons the transfer. In-flight attempts complete but their
// results are discarded.
func (t *Transfer) Close() {
	t.mu.Lock()
	t.closed = true
	t.gen++
	t.mu.Unlock()
}

func (t *Transfer) missingInput() string {
	switch {
	case t.messageID == "":
		return "missing message identifier"
	case t.creds.InstanceID == "":
		return "missing instance identifier"
	case t.creds.InstanceToken == "":
		return "missing instance token"
	}
	return ""
}

// advanceProgress drives the synthetic curve: large increments early,
// shrinking as it approaches 100, capped just below it. The loop stops as
// soon as the attempt it belongs to is superseded or leaves the
// downloading state.
func (t *Transfer) advanceProgress(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.gen != gen || t.status != StatusDownloading {
				t.mu.Unlock()
				return
			}
			t.progress += (96 - t.progress) / 8
			if t.progress > 95 {
				t.progress = 95
			}
			t.publishLocked()
			t.mu.Unlock()
		}
	}
}

func (t *Transfer) attempt(ctx context.Context, gen uint64) {
	result, err := t.downloader.Download(ctx, DownloadRequest{
		Action:        "download-media",
		MessageID:     t.messageID,
		InstanceID:    t.creds.InstanceID,
		InstanceToken: t.creds.InstanceToken,
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.closed {
		// Superseded by a retry or teardown; discard.
		return
	}
	if err != nil {
		t.failLocked(err.Error())
		return
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "download failed"
		}
		t.failLocked(reason)
		return
	}

	_ = t.transitionLocked(StatusProcessing)
	t.url = result.URL
	if t.writer != nil && result.URL != "" {
		t.writer.PersistMediaURL(t.messageID, result.URL)
	}
	_ = t.transitionLocked(StatusComplete)
	t.progress = 100
	telemetry.MediaTransfersTotal.With("complete").Inc()
	t.logger.Info("media transfer complete",
		zap.String("msg_id", t.messageID),
		zap.String("media_type", string(t.mediaType)))
	t.publishLocked()
}

func (t *Transfer) failLocked(reason string) {
	_ = t.transitionLocked(StatusError)
	t.errMsg = reason
	t.progress = 0
	telemetry.MediaTransfersTotal.With("error").Inc()
	t.logger.Warn("media transfer failed",
		zap.String("msg_id", t.messageID),
		zap.String("reason", reason))
	t.publishLocked()
}

func (t *Transfer) transitionLocked(to Status) error {
	if !slices.Contains(validTransitions[t.status], to) {
		return fmt.Errorf("media: invalid transition from %s to %s", t.status, to)
	}
	t.status = to
	return nil
}

func (t *Transfer) snapshotLocked() Snapshot {
	return Snapshot{
		MessageID:  t.messageID,
		MediaType:  t.mediaType,
		Status:     t.status,
		Progress:   int(t.progress),
		ErrMessage: t.errMsg,
		URL:        t.url,
	}
}

func (t *Transfer) publishLocked() {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: bus.KindMediaChanged, Timestamp: time.Now(), Payload: t.snapshotLocked()})
}
