package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Transfer request keys produced by ToTransferRequest.
const (
	TransferKeyWorkOrder          = "work_order"
	TransferKeyURI                = "uri"
	TransferKeyPath               = "path"
	TransferKeySize               = "size"
	TransferKeyBytesTransferred   = "bytes_transferred"
	TransferKeyMimeType           = "mime_type"
	TransferKeyStorageID          = "storage_id"
	TransferKeyUID                = "uid"
	TransferKeyNotificationTarget = "notification_target"
	TransferKeyDownloadRate       = "download_rate"
)

// SummaryStatus renders id, attempt, package position, urgency, state and,
// when a package is active, its progress:
//
//	#12 attempt 2 pkg 1/3 [URGENT] queued 45%
//
// It never panics; a failure part way through yields the text built so far.
func (w *WorkOrder) SummaryStatus() (summary string) {
	var b strings.Builder
	defer func() {
		if r := recover(); r != nil {
			summary = strings.TrimSpace(b.String())
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Fprintf(&b, "#%d attempt %d", w.dbIndex, w.attempt)
	if w.packagesIndex >= 0 {
		fmt.Fprintf(&b, " pkg %d/%d", w.packagesIndex+1, len(w.packages))
	} else {
		fmt.Fprintf(&b, " pkg -/%d", len(w.packages))
	}
	if w.urgent {
		b.WriteString(" [URGENT]")
	}
	b.WriteString(" ")
	b.WriteString(w.stateLocked().String())
	if w.packagesIndex >= 0 && w.packagesIndex < len(w.packages) {
		fmt.Fprintf(&b, " %d%%", w.progressPercent)
	}
	return b.String()
}

// ToTransferRequest flattens a single-package work order into the property bag
// the transport layer consumes. Multi-package and empty orders are not supported.
func (w *WorkOrder) ToTransferRequest() (map[string]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.packages) != 1 {
		return nil, false
	}
	p := w.packages[0]

	req := map[string]string{
		TransferKeyWorkOrder:        strconv.FormatInt(w.dbIndex, 10),
		TransferKeyURI:              p.SourceURI,
		TransferKeyPath:             p.LocalPath,
		TransferKeySize:             strconv.FormatInt(p.ContentSize, 10),
		TransferKeyBytesTransferred: strconv.FormatInt(p.BytesTransferred, 10),
		TransferKeyDownloadRate:     strconv.FormatInt(w.downloadRate, 10),
	}
	if p.MimeType != "" {
		req[TransferKeyMimeType] = p.MimeType
	}
	if w.storageID != "" {
		req[TransferKeyStorageID] = w.storageID
	}
	if w.uid != "" {
		req[TransferKeyUID] = w.uid
	}
	if w.notificationTarget != "" {
		req[TransferKeyNotificationTarget] = w.notificationTarget
	}
	return req, true
}
