package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/edgebridge/gateway/internal/model"
)

// FileUploadInitiate announces a chunked transfer: the file name, its total
// byte size, and the base64 SHA-256 over the whole content.
type FileUploadInitiate struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileHash string `json:"fileHash"`
}

// PlatformFileChannels returns the platform-side filters of the file-transfer
// sub-protocol.
func PlatformFileChannels(gatewayKey string) []string {
	types := []string{
		typeFileUploadBinary, typeFileUploadInitiate, typeFileUploadAbort,
		typeFileDelete, typeFilePurge, typeFileListRequest, typeFileListConfirm,
	}
	channels := make([]string, 0, len(types))
	for _, t := range types {
		channels = append(channels, gatewayChannel(PlatformToDevice, t, gatewayKey))
	}
	return channels
}

// Channel predicates used to dispatch inside the file download service.

// IsFileBinary reports whether the channel carries a binary chunk.
func IsFileBinary(channel string) bool { return ChannelType(channel) == typeFileUploadBinary }

// IsFileUploadInitiate reports whether the channel carries a transfer
// initiation.
func IsFileUploadInitiate(channel string) bool {
	return ChannelType(channel) == typeFileUploadInitiate
}

// IsFileUploadAbort reports whether the channel carries a transfer abort.
func IsFileUploadAbort(channel string) bool { return ChannelType(channel) == typeFileUploadAbort }

// IsFileDelete reports whether the channel carries a file deletion.
func IsFileDelete(channel string) bool { return ChannelType(channel) == typeFileDelete }

// IsFilePurge reports whether the channel carries a purge request.
func IsFilePurge(channel string) bool { return ChannelType(channel) == typeFilePurge }

// IsFileListRequest reports whether the channel carries a file list request.
func IsFileListRequest(channel string) bool { return ChannelType(channel) == typeFileListRequest }

// IsFileListConfirm reports whether the channel carries a file list
// confirmation.
func IsFileListConfirm(channel string) bool { return ChannelType(channel) == typeFileListConfirm }

// ParseFileUploadInitiate decodes a transfer initiation.
func ParseFileUploadInitiate(content []byte) (FileUploadInitiate, error) {
	var init FileUploadInitiate
	if err := json.Unmarshal(content, &init); err != nil || init.FileName == "" {
		return FileUploadInitiate{}, fmt.Errorf("%w: file upload initiate", ErrMalformed)
	}
	return init, nil
}

// ParseFileName decodes payloads carrying just a file name (abort, delete).
func ParseFileName(content []byte) (string, error) {
	var payload struct {
		FileName string `json:"fileName"`
	}
	if err := json.Unmarshal(content, &payload); err != nil || payload.FileName == "" {
		return "", fmt.Errorf("%w: file name payload", ErrMalformed)
	}
	return payload.FileName, nil
}

type fileStatusPayload struct {
	FileName string           `json:"fileName"`
	Status   model.FileStatus `json:"status"`
	Error    model.ErrorCode  `json:"error,omitempty"`
}

// MakeFileUploadStatusMessage builds the platform-bound transfer status.
func MakeFileUploadStatusMessage(gatewayKey, fileName string, status model.FileStatus, code model.ErrorCode) (*model.Message, error) {
	content, err := json.Marshal(fileStatusPayload{FileName: fileName, Status: status, Error: code})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayChannel(DeviceToPlatform, typeFileUploadStatus, gatewayKey), content), nil
}

// ParseFileUploadStatus decodes a transfer status; used by tests.
func ParseFileUploadStatus(content []byte) (string, model.FileStatus, model.ErrorCode, error) {
	var payload fileStatusPayload
	if err := json.Unmarshal(content, &payload); err != nil || payload.Status == "" {
		return "", "", "", fmt.Errorf("%w: file upload status", ErrMalformed)
	}
	return payload.FileName, payload.Status, payload.Error, nil
}

type filePacketRequestPayload struct {
	FileName   string `json:"fileName"`
	ChunkIndex int    `json:"chunkIndex"`
	ChunkSize  int64  `json:"chunkSize"`
}

// MakeFilePacketRequestMessage requests one chunk of the active transfer.
// ChunkSize is the expected payload byte count, hashes excluded.
func MakeFilePacketRequestMessage(gatewayKey, fileName string, chunkIndex int, chunkSize int64) (*model.Message, error) {
	content, err := json.Marshal(filePacketRequestPayload{FileName: fileName, ChunkIndex: chunkIndex, ChunkSize: chunkSize})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayChannel(DeviceToPlatform, typeFilePacketRequest, gatewayKey), content), nil
}

// ParseFilePacketRequest decodes a packet request; used by tests.
func ParseFilePacketRequest(content []byte) (string, int, int64, error) {
	var payload filePacketRequestPayload
	if err := json.Unmarshal(content, &payload); err != nil || payload.FileName == "" {
		return "", 0, 0, fmt.Errorf("%w: file packet request", ErrMalformed)
	}
	return payload.FileName, payload.ChunkIndex, payload.ChunkSize, nil
}

type fileListEntry struct {
	FileName string `json:"fileName"`
}

func makeFileListMessage(channel string, names []string) (*model.Message, error) {
	entries := make([]fileListEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fileListEntry{FileName: name})
	}
	content, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return model.NewMessage(channel, content), nil
}

// MakeFileListResponseMessage answers a file list request.
func MakeFileListResponseMessage(gatewayKey string, names []string) (*model.Message, error) {
	return makeFileListMessage(gatewayChannel(DeviceToPlatform, typeFileListResponse, gatewayKey), names)
}

// MakeFileListUpdateMessage pushes an unsolicited file list after a change.
func MakeFileListUpdateMessage(gatewayKey string, names []string) (*model.Message, error) {
	return makeFileListMessage(gatewayChannel(DeviceToPlatform, typeFileListUpdate, gatewayKey), names)
}

// ParseFileList decodes a file list payload; used by tests.
func ParseFileList(content []byte) ([]string, error) {
	var entries []fileListEntry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("%w: file list", ErrMalformed)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.FileName)
	}
	return names, nil
}

// Platform-side channel builders used by tests to inject file-transfer
// traffic.

// FileUploadInitiateChannel returns the initiation channel.
func FileUploadInitiateChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typeFileUploadInitiate, gatewayKey)
}

// FileUploadBinaryChannel returns the binary chunk channel.
func FileUploadBinaryChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typeFileUploadBinary, gatewayKey)
}

// FileUploadAbortChannel returns the abort channel.
func FileUploadAbortChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typeFileUploadAbort, gatewayKey)
}

// FileDeleteChannel returns the deletion channel.
func FileDeleteChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typeFileDelete, gatewayKey)
}

// FilePurgeChannel returns the purge channel.
func FilePurgeChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typeFilePurge, gatewayKey)
}

// FileListRequestChannel returns the list request channel.
func FileListRequestChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typeFileListRequest, gatewayKey)
}
