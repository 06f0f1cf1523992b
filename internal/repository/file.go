package repository

import (
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/edgebridge/gateway/internal/model"
)

type fileRow struct {
	Name string `gorm:"primarykey"`
	Hash string
	Path string
}

func (fileRow) TableName() string { return "files" }

// FileRepository stores the metadata of files downloaded from the platform.
// The bytes themselves live on disk under the configured download directory.
type FileRepository struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewFileRepository migrates the file table and returns the store.
func NewFileRepository(db *gorm.DB) (*FileRepository, error) {
	if err := db.AutoMigrate(&fileRow{}); err != nil {
		return nil, err
	}
	return &FileRepository{db: db}, nil
}

// Store inserts or replaces the file entry.
func (r *FileRepository) Store(info *model.FileInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Save(&fileRow{Name: info.Name, Hash: info.Hash, Path: info.Path}).Error
}

// Get returns the entry for name, or nil without error when unknown.
func (r *FileRepository) Get(name string) (*model.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var row fileRow
	err := r.db.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.FileInfo{Name: row.Name, Hash: row.Hash, Path: row.Path}, nil
}

// Contains reports whether an entry for name is stored.
func (r *FileRepository) Contains(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	if err := r.db.Model(&fileRow{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count != 0, nil
}

// All returns every stored entry ordered by name.
func (r *FileRepository) All() ([]model.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rows []fileRow
	if err := r.db.Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	infos := make([]model.FileInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, model.FileInfo{Name: row.Name, Hash: row.Hash, Path: row.Path})
	}
	return infos, nil
}

// Remove deletes the entry for name. Removing an unknown name is not an
// error.
func (r *FileRepository) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Delete(&fileRow{Name: name}).Error
}
