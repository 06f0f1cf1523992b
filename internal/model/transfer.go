package model

// FileInfo describes a file held by the file repository. Hash is the base64
// encoded SHA-256 over the file bytes, Path the absolute location on disk.
type FileInfo struct {
	Name string
	Hash string
	Path string
}

// FileStatus is the wire state of a chunked file transfer.
type FileStatus string

// File transfer states.
const (
	FileStatusTransfer FileStatus = "FILE_TRANSFER"
	FileStatusReady    FileStatus = "FILE_READY"
	FileStatusAborted  FileStatus = "ABORTED"
	FileStatusError    FileStatus = "ERROR"
)

// ErrorCode is the error taxonomy shared by the file and firmware
// subsystems.
type ErrorCode string

// Error codes.
const (
	ErrorUnspecified              ErrorCode = "UNSPECIFIED_ERROR"
	ErrorTransferProtocolDisabled ErrorCode = "TRANSFER_PROTOCOL_DISABLED"
	ErrorUnsupportedFileSize      ErrorCode = "UNSUPPORTED_FILE_SIZE"
	ErrorMalformedResponse        ErrorCode = "MALFORMED_RESPONSE"
	ErrorFileHashMismatch         ErrorCode = "FILE_HASH_MISMATCH"
	ErrorFileSystem               ErrorCode = "FILE_SYSTEM_ERROR"
	ErrorRetryCountExceeded       ErrorCode = "RETRY_COUNT_EXCEEDED"
)

// FirmwareStatus is the state of a firmware update session. IDLE never
// appears on the wire.
type FirmwareStatus string

// Firmware update states.
const (
	FirmwareStatusIdle         FirmwareStatus = "IDLE"
	FirmwareStatusFileTransfer FirmwareStatus = "FILE_TRANSFER"
	FirmwareStatusFileReady    FirmwareStatus = "FILE_READY"
	FirmwareStatusInstallation FirmwareStatus = "INSTALLATION"
	FirmwareStatusCompleted    FirmwareStatus = "COMPLETED"
	FirmwareStatusAborted      FirmwareStatus = "ABORTED"
	FirmwareStatusError        FirmwareStatus = "ERROR"
)

// FirmwareCommandType distinguishes firmware update commands.
type FirmwareCommandType string

// Firmware update commands.
const (
	FirmwareCommandInstall FirmwareCommandType = "INSTALL"
	FirmwareCommandAbort   FirmwareCommandType = "ABORT"
)

// FirmwareCommand is a platform-issued firmware update command. Exactly one
// of FileName and FileURL is set for INSTALL.
type FirmwareCommand struct {
	Command  FirmwareCommandType `json:"command"`
	FileName string              `json:"fileName,omitempty"`
	FileURL  string              `json:"fileUrl,omitempty"`
}
