// Package repository keeps the per-run view of the vehicle: one snapshot
// per OBD module and the declared vehicle information.
package repository

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/autopeer-io/obdverify/internal/verifier/model"
	"github.com/autopeer-io/obdverify/pkg/j1939"
)

// ErrVehicleAlreadySet is returned by SetVehicle after the first call.
var ErrVehicleAlreadySet = errors.New("vehicle information already set")

// Repository is written by the run goroutine only. The lock covers
// concurrent readers such as the HTTP status handler.
type Repository struct {
	mu      sync.RWMutex
	modules map[uint8]ModuleSnapshot
	vehicle *model.VehicleInformation
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{modules: make(map[uint8]ModuleSnapshot)}
}

// Put stores m, replacing any snapshot of the same address.
func (r *Repository) Put(m ModuleSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Address()] = m
}

// Update applies fn to the snapshot of address, creating an empty one
// first when the module is new.
func (r *Repository) Update(address uint8, fn func(ModuleSnapshot) ModuleSnapshot) ModuleSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[address]
	if !ok {
		m = NewModuleSnapshot(address)
	}
	m = fn(m)
	r.modules[address] = m
	return m
}

// RecordPacket stores p in the snapshot of its source, if that module is
// known. Packets from modules that are not OBD modules are ignored.
func (r *Repository) RecordPacket(part int, p j1939.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[p.Source]
	if !ok {
		return
	}
	r.modules[p.Source] = m.WithPacket(part, p)
}

// Module returns the snapshot of address.
func (r *Repository) Module(address uint8) (ModuleSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[address]
	return m, ok
}

// Modules returns every snapshot ordered by address.
func (r *Repository) Modules() []ModuleSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModuleSnapshot, 0, len(r.modules))
	for _, a := range slices.Sorted(maps.Keys(r.modules)) {
		out = append(out, r.modules[a])
	}
	return out
}

// Addresses lists the known module addresses in ascending order.
func (r *Repository) Addresses() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.modules))
}

// Vehicle returns the declared vehicle, if set.
func (r *Repository) Vehicle() (model.VehicleInformation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.vehicle == nil {
		return model.VehicleInformation{}, false
	}
	return *r.vehicle, true
}

// SetVehicle records the declared vehicle. It may be called once per run;
// use ReplaceVehicle to correct it afterwards.
func (r *Repository) SetVehicle(v model.VehicleInformation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vehicle != nil {
		return ErrVehicleAlreadySet
	}
	r.vehicle = &v
	return nil
}

// ReplaceVehicle overwrites the declared vehicle.
func (r *Repository) ReplaceVehicle(v model.VehicleInformation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicle = &v
}

// Reset forgets every module and the vehicle.
func (r *Repository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = make(map[uint8]ModuleSnapshot)
	r.vehicle = nil
}
