package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

const (
	chunkHashSize   = sha256.Size
	maxChunkRetries = 3
)

// TransferListener observes terminal chunked-transfer events. The firmware
// service registers itself to follow file-backed installations.
type TransferListener interface {
	TransferCompleted(name, path string)
	TransferFailed(name string, code model.ErrorCode)
	TransferAborted(name string)
}

// transfer is the state of one chunked download. It is mutated only by the
// platform-side command-buffer worker until completed is set; the collector
// then reaps it.
type transfer struct {
	name       string
	size       int64
	hash       string // base64 sha256 over the whole file
	chunkCount int
	nextChunk  int
	retries    int
	prevHash   []byte
	data       []byte
	completed  bool
}

// FileDownloadService receives files from the platform in hash-chained
// chunks, stores them under the download directory and maintains the file
// repository and the platform's file list. At most one transfer is active at
// a time. A collector goroutine reaps finished transfer state.
type FileDownloadService struct {
	lg            *logrus.Entry
	gatewayKey    string
	dir           string
	maxFileSize   int64 // 0 disables the subsystem
	maxPacketSize int64
	files         FileStore
	platform      Publisher

	// Set during wiring, before dispatch starts.
	listener TransferListener

	mu       sync.Mutex
	sessions map[string]*transfer
	active   string

	notify   chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewFileDownloadService builds the service and starts its collector.
func NewFileDownloadService(lg *logrus.Entry, gatewayKey, dir string, maxFileSize, maxPacketSize int64,
	files FileStore, platform Publisher) *FileDownloadService {
	s := &FileDownloadService{
		lg:            lg,
		gatewayKey:    gatewayKey,
		dir:           dir,
		maxFileSize:   maxFileSize,
		maxPacketSize: maxPacketSize,
		files:         files,
		platform:      platform,
		sessions:      make(map[string]*transfer),
		notify:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.collect()
	return s
}

// SetTransferListener registers the observer of terminal transfer events.
func (s *FileDownloadService) SetTransferListener(l TransferListener) {
	s.listener = l
}

// ActiveDownload returns the name of the transfer in progress, empty when
// the slot is free.
func (s *FileDownloadService) ActiveDownload() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop shuts the collector down. An in-flight transfer is left to the
// platform to re-initiate.
func (s *FileDownloadService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// PlatformMessageReceived dispatches one platform-side file channel message.
func (s *FileDownloadService) PlatformMessageReceived(msg *model.Message) {
	switch {
	case protocol.IsFileUploadInitiate(msg.Channel):
		s.handleInitiate(msg)
	case protocol.IsFileBinary(msg.Channel):
		s.handleBinary(msg)
	case protocol.IsFileUploadAbort(msg.Channel):
		s.handleAbort(msg)
	case protocol.IsFileDelete(msg.Channel):
		s.handleDelete(msg)
	case protocol.IsFilePurge(msg.Channel):
		s.handlePurge()
	case protocol.IsFileListRequest(msg.Channel):
		s.handleListRequest()
	case protocol.IsFileListConfirm(msg.Channel):
		s.lg.Debug("file list confirmed")
	default:
		s.lg.WithField("channel", msg.Channel).Info("unexpected file channel, message dropped")
	}
}

func (s *FileDownloadService) handleInitiate(msg *model.Message) {
	init, err := protocol.ParseFileUploadInitiate(msg.Content)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).WithError(err).Warn("malformed file upload initiate")
		s.sendStatus(init.FileName, model.FileStatusError, model.ErrorUnspecified)
		return
	}
	if s.maxFileSize == 0 {
		s.lg.WithField("file", init.FileName).Warn("file transfer disabled by configuration")
		s.sendStatus(init.FileName, model.FileStatusError, model.ErrorTransferProtocolDisabled)
		return
	}
	if init.FileSize > s.maxFileSize {
		s.lg.WithFields(logrus.Fields{"file": init.FileName, "size": init.FileSize}).Warn("file exceeds size limit")
		s.sendStatus(init.FileName, model.FileStatusError, model.ErrorUnsupportedFileSize)
		return
	}

	existing, err := s.files.Get(init.FileName)
	if err != nil {
		s.lg.WithField("file", init.FileName).WithError(err).Error("file lookup failed")
		existing = nil
	}
	if existing != nil {
		if existing.Hash == init.FileHash {
			s.lg.WithField("file", init.FileName).Info("file already present")
			s.sendStatus(init.FileName, model.FileStatusReady, "")
			if l := s.listener; l != nil {
				l.TransferCompleted(init.FileName, existing.Path)
			}
			return
		}
		s.lg.WithField("file", init.FileName).Warn("file present with different hash")
		s.sendStatus(init.FileName, model.FileStatusError, model.ErrorFileHashMismatch)
		return
	}

	s.mu.Lock()
	if tr, ok := s.sessions[init.FileName]; ok && tr.completed {
		delete(s.sessions, init.FileName) // not collected yet
	}
	if s.active != "" {
		tr := s.sessions[s.active]
		if s.active == init.FileName && tr.hash == init.FileHash && tr.size == init.FileSize {
			s.mu.Unlock()
			s.sendStatus(init.FileName, model.FileStatusTransfer, "")
			return
		}
		active := s.active
		s.mu.Unlock()
		s.lg.WithFields(logrus.Fields{"file": init.FileName, "active": active}).Warn("transfer slot busy")
		s.sendStatus(init.FileName, model.FileStatusError, model.ErrorUnspecified)
		return
	}
	tr := &transfer{
		name:       init.FileName,
		size:       init.FileSize,
		hash:       init.FileHash,
		chunkCount: int((init.FileSize + s.maxPacketSize - 1) / s.maxPacketSize),
	}
	s.sessions[tr.name] = tr
	s.active = tr.name
	s.mu.Unlock()

	s.lg.WithFields(logrus.Fields{"file": tr.name, "size": tr.size, "chunks": tr.chunkCount}).
		Info("file transfer started")
	s.sendStatus(tr.name, model.FileStatusTransfer, "")
	s.requestChunk(tr)
}

func (s *FileDownloadService) handleBinary(msg *model.Message) {
	s.mu.Lock()
	tr := s.sessions[s.active]
	s.mu.Unlock()
	if tr == nil {
		s.lg.Warn("binary chunk without active transfer dropped")
		return
	}

	if !validChunk(tr, msg.Content) {
		tr.retries++
		if tr.retries > maxChunkRetries {
			s.lg.WithFields(logrus.Fields{"file": tr.name, "chunk": tr.nextChunk}).
				Warn("chunk retries exhausted, transfer failed")
			s.terminate(tr, model.ErrorRetryCountExceeded)
			return
		}
		s.lg.WithFields(logrus.Fields{"file": tr.name, "chunk": tr.nextChunk, "retry": tr.retries}).
			Debug("invalid chunk, requesting again")
		s.requestChunk(tr)
		return
	}

	payload := msg.Content[chunkHashSize : len(msg.Content)-chunkHashSize]
	tr.retries = 0
	tr.data = append(tr.data, payload...)
	tr.prevHash = append(tr.prevHash[:0], msg.Content[len(msg.Content)-chunkHashSize:]...)
	tr.nextChunk++

	if tr.nextChunk < tr.chunkCount {
		s.requestChunk(tr)
		return
	}
	s.finalize(tr)
}

// validChunk checks the packet envelope: sha256(payload) must equal the
// trailing hash, and the leading hash must chain to the previous chunk.
func validChunk(tr *transfer, content []byte) bool {
	if len(content) <= 2*chunkHashSize {
		return false
	}
	payload := content[chunkHashSize : len(content)-chunkHashSize]
	prev := content[:chunkHashSize]
	curr := content[len(content)-chunkHashSize:]

	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], curr) {
		return false
	}
	return tr.nextChunk == 0 || bytes.Equal(prev, tr.prevHash)
}

func (s *FileDownloadService) finalize(tr *transfer) {
	sum := sha256.Sum256(tr.data)
	if base64.StdEncoding.EncodeToString(sum[:]) != tr.hash {
		s.lg.WithField("file", tr.name).Warn("assembled file hash mismatch")
		s.terminate(tr, model.ErrorFileHashMismatch)
		return
	}

	path := filepath.Join(s.dir, tr.name)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.lg.WithField("file", tr.name).WithError(err).Error("failed to create download directory")
		s.terminate(tr, model.ErrorFileSystem)
		return
	}
	if err := os.WriteFile(path, tr.data, 0o644); err != nil {
		s.lg.WithField("file", tr.name).WithError(err).Error("failed to write file")
		s.terminate(tr, model.ErrorFileSystem)
		return
	}
	if err := s.files.Store(&model.FileInfo{Name: tr.name, Hash: tr.hash, Path: path}); err != nil {
		s.lg.WithField("file", tr.name).WithError(err).Error("failed to store file entry")
		os.Remove(path)
		s.terminate(tr, model.ErrorFileSystem)
		return
	}

	s.completeSession(tr)
	s.lg.WithFields(logrus.Fields{"file": tr.name, "path": path}).Info("file transfer completed")
	s.sendStatus(tr.name, model.FileStatusReady, "")
	s.sendFileListUpdate()
	if l := s.listener; l != nil {
		l.TransferCompleted(tr.name, path)
	}
}

func (s *FileDownloadService) terminate(tr *transfer, code model.ErrorCode) {
	s.completeSession(tr)
	s.sendStatus(tr.name, model.FileStatusError, code)
	if l := s.listener; l != nil {
		l.TransferFailed(tr.name, code)
	}
}

func (s *FileDownloadService) handleAbort(msg *model.Message) {
	name, err := protocol.ParseFileName(msg.Content)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).WithError(err).Warn("malformed file abort dropped")
		return
	}

	s.mu.Lock()
	tr, ok := s.sessions[name]
	if !ok || tr.completed || s.active != name {
		s.mu.Unlock()
		s.lg.WithField("file", name).Debug("abort for inactive transfer ignored")
		return
	}
	tr.completed = true
	s.active = ""
	s.mu.Unlock()
	s.kickCollector()

	s.lg.WithField("file", name).Info("file transfer aborted")
	s.sendStatus(name, model.FileStatusAborted, "")
	if l := s.listener; l != nil {
		l.TransferAborted(name)
	}
}

func (s *FileDownloadService) handleDelete(msg *model.Message) {
	name, err := protocol.ParseFileName(msg.Content)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).WithError(err).Warn("malformed file delete dropped")
		return
	}
	if !s.deleteFile(name) {
		return
	}
	s.sendFileListUpdate()
}

func (s *FileDownloadService) handlePurge() {
	infos, err := s.files.All()
	if err != nil {
		s.lg.WithError(err).Error("file listing failed")
		return
	}
	for _, info := range infos {
		s.deleteFile(info.Name)
	}
	s.sendFileListUpdate()
}

func (s *FileDownloadService) handleListRequest() {
	out, err := protocol.MakeFileListResponseMessage(s.gatewayKey, s.fileNames())
	if err != nil {
		s.lg.WithError(err).Error("failed to encode file list response")
		return
	}
	s.platform.AddMessage(out)
}

func (s *FileDownloadService) deleteFile(name string) bool {
	info, err := s.files.Get(name)
	if err != nil {
		s.lg.WithField("file", name).WithError(err).Error("file lookup failed")
		return false
	}
	if info == nil {
		s.lg.WithField("file", name).Debug("delete for unknown file ignored")
		return false
	}
	if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
		s.lg.WithField("file", name).WithError(err).Error("failed to delete file from disk")
	}
	if err := s.files.Remove(name); err != nil {
		s.lg.WithField("file", name).WithError(err).Error("failed to remove file entry")
		return false
	}
	s.lg.WithField("file", name).Info("file deleted")
	return true
}

func (s *FileDownloadService) requestChunk(tr *transfer) {
	chunkSize := s.maxPacketSize
	if remaining := tr.size - int64(len(tr.data)); remaining < chunkSize {
		chunkSize = remaining
	}
	out, err := protocol.MakeFilePacketRequestMessage(s.gatewayKey, tr.name, tr.nextChunk, chunkSize)
	if err != nil {
		s.lg.WithField("file", tr.name).WithError(err).Error("failed to encode packet request")
		return
	}
	s.platform.AddMessage(out)
}

func (s *FileDownloadService) sendStatus(name string, status model.FileStatus, code model.ErrorCode) {
	out, err := protocol.MakeFileUploadStatusMessage(s.gatewayKey, name, status, code)
	if err != nil {
		s.lg.WithField("file", name).WithError(err).Error("failed to encode file status")
		return
	}
	s.platform.AddMessage(out)
}

func (s *FileDownloadService) sendFileListUpdate() {
	out, err := protocol.MakeFileListUpdateMessage(s.gatewayKey, s.fileNames())
	if err != nil {
		s.lg.WithError(err).Error("failed to encode file list update")
		return
	}
	s.platform.AddMessage(out)
}

func (s *FileDownloadService) fileNames() []string {
	infos, err := s.files.All()
	if err != nil {
		s.lg.WithError(err).Error("file listing failed")
		return nil
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

func (s *FileDownloadService) completeSession(tr *transfer) {
	s.mu.Lock()
	tr.completed = true
	if s.active == tr.name {
		s.active = ""
	}
	s.mu.Unlock()
	s.kickCollector()
}

func (s *FileDownloadService) kickCollector() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// collect reaps finished transfers, releasing their chunk buffers.
func (s *FileDownloadService) collect() {
	defer close(s.done)
	for {
		select {
		case <-s.notify:
			s.mu.Lock()
			for name, tr := range s.sessions {
				if tr.completed {
					delete(s.sessions, name)
					s.lg.WithField("file", name).Debug("collected finished transfer")
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}
