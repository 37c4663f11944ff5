package memory

import (
	"context"
	"sync"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
)

// BarnDirectory implements monitoring.BarnDirectory over a fixed set of barns.
type BarnDirectory struct {
	mu     sync.RWMutex
	byID   map[string]model.Barn
	byCode map[string]model.Barn
}

// NewBarnDirectory creates a directory holding barns.
func NewBarnDirectory(barns ...model.Barn) *BarnDirectory {
	d := &BarnDirectory{
		byID:   map[string]model.Barn{},
		byCode: map[string]model.Barn{},
	}
	for _, b := range barns {
		d.Put(b)
	}
	return d
}

// Put adds or replaces a barn.
func (d *BarnDirectory) Put(b model.Barn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.byID[b.ID] = b
	if b.Code != "" {
		d.byCode[b.Code] = b
	}
}

// FindByID implements monitoring.BarnDirectory.
func (d *BarnDirectory) FindByID(_ context.Context, id string) (*model.Barn, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.byID[id]
	if !ok {
		return nil, monitoring.ErrBarnNotFound
	}
	return &b, nil
}

// FindByCode implements monitoring.BarnDirectory.
func (d *BarnDirectory) FindByCode(_ context.Context, code string) (*model.Barn, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.byCode[code]
	if !ok {
		return nil, monitoring.ErrBarnNotFound
	}
	return &b, nil
}

var _ monitoring.BarnDirectory = (*BarnDirectory)(nil)
