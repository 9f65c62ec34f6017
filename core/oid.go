package core

import "errors"

// Errors returned by the object table
var (
	ErrOidsNotAllocated = errors.New("oids not allocated")
	ErrOidOutOfRange    = errors.New("oid out of range")
	ErrOidInUse         = errors.New("oid already allocated")
	ErrOidNotFound      = errors.New("oid not configured")
	ErrOidWrongType     = errors.New("invalid oid type")
	ErrOidsReallocated  = errors.New("oids already allocated")
)

// oidEntry is one slot of the object table
type oidEntry struct {
	kind string
	obj  interface{}
}

// oidTable maps host object ids to configured objects
// (Klipper's oid_alloc / oid_lookup).
var oidTable []oidEntry

// AllocateOids sizes the object table. It may only be called once per
// configuration; config_reset clears it.
func AllocateOids(count int) error {
	state := IRQDisable()
	defer IRQRestore(state)

	if oidTable != nil {
		return ErrOidsReallocated
	}
	oidTable = make([]oidEntry, count)
	return nil
}

// AllocOid stores obj under oid. kind names the object type in errors.
func AllocOid(oid uint8, kind string, obj interface{}) error {
	state := IRQDisable()
	defer IRQRestore(state)

	if oidTable == nil {
		return ErrOidsNotAllocated
	}
	if int(oid) >= len(oidTable) {
		return ErrOidOutOfRange
	}
	if oidTable[oid].obj != nil {
		return ErrOidInUse
	}
	oidTable[oid] = oidEntry{kind: kind, obj: obj}
	return nil
}

// LookupOid returns the object stored under oid if it has type T
func LookupOid[T any](oid uint8) (T, error) {
	var zero T
	if int(oid) >= len(oidTable) {
		return zero, ErrOidOutOfRange
	}
	entry := oidTable[oid]
	if entry.obj == nil {
		return zero, ErrOidNotFound
	}
	obj, ok := entry.obj.(T)
	if !ok {
		return zero, errors.New(ErrOidWrongType.Error() + ": oid " + itoa(int(oid)) + " is " + entry.kind)
	}
	return obj, nil
}

// ForEachOid calls fn for each configured object in oid order
func ForEachOid(fn func(oid uint8, obj interface{})) {
	for i, entry := range oidTable {
		if entry.obj != nil {
			fn(uint8(i), entry.obj)
		}
	}
}

// ResetOids drops every configured object
func ResetOids() {
	state := IRQDisable()
	defer IRQRestore(state)
	oidTable = nil
}
