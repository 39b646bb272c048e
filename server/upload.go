package server

import (
	"time"

	"github.com/shuliangfu/wsmesh/internal/defaults"
	"github.com/shuliangfu/wsmesh/observability"
	"github.com/shuliangfu/wsmesh/protocol"
)

// chunkMeta is the payload of a "file-chunk" event. The chunk's bytes follow
// as the next binary frame from the same peer.
type chunkMeta struct {
	UploadID    string `json:"uploadId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
}

// UploadResult is the payload of the local "file-upload" event fired when a
// chunked transfer completes. Bytes is the reassembled blob (base64 when
// observed as JSON).
type UploadResult struct {
	UploadID string `json:"uploadId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Bytes    []byte `json:"bytes"`
}

// UploadError is the payload of the local "file-upload-error" event.
type UploadError struct {
	UploadID string `json:"uploadId"`
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

type upload struct {
	id            string
	fileName      string
	fileSize      int64
	totalChunks   int
	chunkSize     int
	received      map[int][]byte
	receivedCount int
	createdAt     time.Time
	timer         *time.Timer
}

// assemble concatenates the chunks in index order. ok is false when any
// index up to totalChunks is missing.
func (u *upload) assemble() ([]byte, bool) {
	buf := make([]byte, 0, u.fileSize)
	for i := 0; i < u.totalChunks; i++ {
		chunk, ok := u.received[i]
		if !ok {
			return nil, false
		}
		buf = append(buf, chunk...)
	}
	return buf, true
}

// handleFileChunk processes chunk metadata: allocates the upload on the
// first chunk, refreshes the inactivity timer, and marks this peer's next
// binary frame as belonging to the upload.
func (p *Peer) handleFileChunk(env protocol.Envelope) {
	var meta chunkMeta
	if err := env.DecodeData(&meta); err != nil || meta.UploadID == "" {
		log.WithField("peer", p.id).Debug("malformed file-chunk metadata")
		return
	}

	p.uploadMu.Lock()
	u := p.uploads[meta.UploadID]
	if u == nil {
		if meta.ChunkIndex != 0 {
			// The upload was never opened here (lost first chunk or a
			// timeout already reaped it); without state the remaining
			// frames cannot be placed.
			p.pendingBinaryUploadID = ""
			p.uploadMu.Unlock()
			p.fireLocal(protocol.EventFileUploadError, UploadError{
				UploadID: meta.UploadID,
				FileName: meta.FileName,
				Error:    "unknown upload",
			})
			return
		}
		u = &upload{
			id:          meta.UploadID,
			fileName:    meta.FileName,
			fileSize:    meta.FileSize,
			totalChunks: meta.TotalChunks,
			chunkSize:   meta.ChunkSize,
			received:    make(map[int][]byte, meta.TotalChunks),
			createdAt:   time.Now(),
		}
		p.uploads[meta.UploadID] = u
	}
	p.pendingBinaryUploadID = meta.UploadID
	p.refreshUploadTimerLocked(u)
	p.uploadMu.Unlock()
}

// consumeUploadBinary routes a binary frame into the pending upload, if
// any. It returns false when no upload claimed the frame.
func (p *Peer) consumeUploadBinary(b []byte) bool {
	p.uploadMu.Lock()
	id := p.pendingBinaryUploadID
	if id == "" {
		p.uploadMu.Unlock()
		return false
	}
	p.pendingBinaryUploadID = ""
	u := p.uploads[id]
	if u == nil {
		p.uploadMu.Unlock()
		return false
	}
	u.received[u.receivedCount] = b
	u.receivedCount++
	if u.receivedCount < u.totalChunks {
		p.refreshUploadTimerLocked(u)
		p.uploadMu.Unlock()
		return true
	}

	// Final chunk: release the upload before leaving the lock.
	if u.timer != nil {
		u.timer.Stop()
	}
	delete(p.uploads, id)
	p.uploadMu.Unlock()

	blob, ok := u.assemble()
	if !ok {
		p.srv.obs.Upload(observability.UploadResultIncomplete, 0)
		p.fireLocal(protocol.EventFileUploadError, UploadError{
			UploadID: u.id,
			FileName: u.fileName,
			Error:    "missing chunks",
		})
		return true
	}
	p.srv.obs.Upload(observability.UploadResultOK, int64(len(blob)))
	p.fireLocal(protocol.EventFileUpload, UploadResult{
		UploadID: u.id,
		FileName: u.fileName,
		FileSize: u.fileSize,
		Bytes:    blob,
	})
	return true
}

// refreshUploadTimerLocked re-arms the inactivity timer. Caller holds
// uploadMu.
func (p *Peer) refreshUploadTimerLocked(u *upload) {
	if u.timer != nil {
		u.timer.Stop()
	}
	id := u.id
	u.timer = time.AfterFunc(defaults.UploadInactivityTimeout, func() {
		p.expireUpload(id)
	})
}

// expireUpload reaps an upload whose inactivity timer fired.
func (p *Peer) expireUpload(id string) {
	p.uploadMu.Lock()
	u := p.uploads[id]
	if u == nil {
		p.uploadMu.Unlock()
		return
	}
	delete(p.uploads, id)
	if p.pendingBinaryUploadID == id {
		p.pendingBinaryUploadID = ""
	}
	p.uploadMu.Unlock()

	p.srv.obs.Upload(observability.UploadResultTimeout, 0)
	p.fireLocal(protocol.EventFileUploadError, UploadError{
		UploadID: u.id,
		FileName: u.fileName,
		Error:    "upload timed out",
	})
}

// cancelUploads stops every upload timer and drops partial state. Called
// once, from disconnect.
func (p *Peer) cancelUploads() {
	p.uploadMu.Lock()
	defer p.uploadMu.Unlock()
	for _, u := range p.uploads {
		if u.timer != nil {
			u.timer.Stop()
		}
	}
	p.uploads = make(map[string]*upload)
	p.pendingBinaryUploadID = ""
}
