package client

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/shuliangfu/wsmesh/internal/defaults"
	"github.com/shuliangfu/wsmesh/protocol"
)

// chunkMeta mirrors the server's "file-chunk" payload. Each metadata event
// is followed immediately by the chunk's binary frame.
type chunkMeta struct {
	UploadID    string `json:"uploadId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
}

// UploadFile transfers a blob to the server as a chunked upload and returns
// the upload id. chunkSize 0 uses the 64 KiB default. The server fires a
// single "file-upload" event once every chunk has arrived.
func (c *Client) UploadFile(fileName string, blob []byte, chunkSize int) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("upload is empty")
	}
	if chunkSize <= 0 {
		chunkSize = defaults.UploadChunkSize
	}
	uploadID := uuid.NewString()
	totalChunks := (len(blob) + chunkSize - 1) / chunkSize
	for i := 0; i < totalChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(blob) {
			end = len(blob)
		}
		chunk := blob[start:end]
		meta := chunkMeta{
			UploadID:    uploadID,
			FileName:    fileName,
			FileSize:    int64(len(blob)),
			ChunkIndex:  i,
			TotalChunks: totalChunks,
			ChunkSize:   len(chunk),
		}
		if err := c.Emit(protocol.EventFileChunk, meta); err != nil {
			return "", err
		}
		if err := c.SendBinary(chunk); err != nil {
			return "", err
		}
	}
	return uploadID, nil
}
