package wasm

import "fmt"

// StorageKind says where a source-level identifier lives at run time.
type StorageKind int

const (
	// StorageLabel is a named local or global variable.
	StorageLabel StorageKind = iota
	// StorageOffset is a local referenced by index in the current
	// function's locals vector.
	StorageOffset
	// StorageMemory is a fixed linear-memory address holding the
	// value of a statically allocated variable.
	StorageMemory
	// StorageTableEntry is a statically allocated closure cell for a
	// named function registered in the function table.
	StorageTableEntry
	// StorageFuncRef is a closure cell carrying (table-index,
	// env-pointer) for a first-class function value.
	StorageFuncRef
	// StorageID is a compile-time integer constant (union tags).
	StorageID
)

func (k StorageKind) String() string {
	switch k {
	case StorageLabel:
		return "label"
	case StorageOffset:
		return "offset"
	case StorageMemory:
		return "memory"
	case StorageTableEntry:
		return "table-entry"
	case StorageFuncRef:
		return "funcref"
	case StorageID:
		return "id"
	default:
		return "invalid"
	}
}

// Storage is one variable-storage entry. Entries are inserted before
// any instruction referencing them is emitted; bindings are restored
// on scope exit by the copy-on-bind discipline of the lowering
// environment.
type Storage struct {
	Kind  StorageKind
	Label string // Label: local/global name; TableEntry/FuncRef: function label
	Index int    // Offset: local index; TableEntry/FuncRef: table index
	Addr  int    // Memory/TableEntry/FuncRef: linear-memory address
	ID    int    // ID: the constant

	// Global marks a Label entry naming a module global rather than a
	// function local.
	Global bool
	// Boxed marks a Label entry whose local holds the address of a
	// one-word heap cell instead of the value itself; mutable
	// variables captured by a closure are stored this way.
	Boxed bool
	// Fun marks a Label entry naming a hoisted top-level function;
	// applications of it compile to direct calls.
	Fun bool
}

func (s Storage) String() string {
	switch s.Kind {
	case StorageLabel:
		return fmt.Sprintf("label(%s)", s.Label)
	case StorageOffset:
		return fmt.Sprintf("offset(%d)", s.Index)
	case StorageMemory:
		return fmt.Sprintf("memory(%d)", s.Addr)
	case StorageTableEntry:
		return fmt.Sprintf("table-entry(%s, %d)", s.Label, s.Index)
	case StorageFuncRef:
		return fmt.Sprintf("funcref(%s, %d)", s.Label, s.Index)
	case StorageID:
		return fmt.Sprintf("id(%d)", s.ID)
	default:
		return "storage(?)"
	}
}
