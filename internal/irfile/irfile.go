// Package irfile stores modules and their type tables on disk.
//
// A file is a msgpack envelope holding a schema version, an xxhash checksum
// and the encoded payload. The checksum covers the payload bytes only.
package irfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"addrlower/internal/ir"
	"addrlower/internal/types"
)

// Current schema version - increment when the payload format changes.
const schemaVersion uint16 = 1

const magic = "addrlower-ir"

var (
	// ErrNotModule is returned for inputs that do not carry the module magic.
	ErrNotModule = errors.New("irfile: not a module file")
	// ErrSchema is returned for files written with another schema version.
	ErrSchema = errors.New("irfile: unsupported schema version")
	// ErrChecksum is returned when the payload does not match its checksum.
	ErrChecksum = errors.New("irfile: checksum mismatch")
)

type envelope struct {
	Magic    string `msgpack:"magic"`
	Schema   uint16 `msgpack:"schema"`
	Checksum uint64 `msgpack:"checksum"`
	Payload  []byte `msgpack:"payload"`
}

type payload struct {
	Types  types.Snapshot `msgpack:"types"`
	Module *ir.Module     `msgpack:"module"`
}

// Encode writes m together with the types it references.
func Encode(w io.Writer, m *ir.Module, ti *types.Interner) error {
	body, err := msgpack.Marshal(&payload{Types: ti.Snapshot(), Module: m})
	if err != nil {
		return fmt.Errorf("irfile: encode %s: %w", m.Name, err)
	}
	env := envelope{
		Magic:    magic,
		Schema:   schemaVersion,
		Checksum: xxhash.Sum64(body),
		Payload:  body,
	}
	return msgpack.NewEncoder(w).Encode(&env)
}

// Decode reads a module written by Encode. Use lists are rebuilt, so the
// result is ready for mutation.
func Decode(r io.Reader) (*ir.Module, *types.Interner, error) {
	var env envelope
	if err := msgpack.NewDecoder(r).Decode(&env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNotModule, err)
	}
	if env.Magic != magic {
		return nil, nil, ErrNotModule
	}
	if env.Schema != schemaVersion {
		return nil, nil, fmt.Errorf("%w: %d (want %d)", ErrSchema, env.Schema, schemaVersion)
	}
	if xxhash.Sum64(env.Payload) != env.Checksum {
		return nil, nil, ErrChecksum
	}
	var p payload
	if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
		return nil, nil, fmt.Errorf("irfile: decode payload: %w", err)
	}
	if p.Module == nil {
		return nil, nil, fmt.Errorf("irfile: payload has no module")
	}
	ti, err := types.Restore(p.Types)
	if err != nil {
		return nil, nil, fmt.Errorf("irfile: %w", err)
	}
	for _, f := range p.Module.Funcs {
		if f == nil {
			continue
		}
		if err := checkFunc(f, ti); err != nil {
			return nil, nil, err
		}
		f.RebuildUses()
	}
	return p.Module, ti, nil
}

// checkFunc rejects functions whose arenas are inconsistent with their IDs
// or whose types are not in the table.
func checkFunc(f *ir.Func, ti *types.Interner) error {
	n := ti.Len()
	badType := func(id types.TypeID) bool { return int(id) >= n }
	for i, v := range f.Values {
		if v == nil || int(v.ID) != i {
			return fmt.Errorf("irfile: %s: value slot %d is corrupt", f.Name, i)
		}
		if badType(v.Type) {
			return fmt.Errorf("irfile: %s: value %%%d has unknown type %d", f.Name, i, v.Type)
		}
	}
	for i, in := range f.Instrs {
		if in == nil || int(in.ID) != i {
			return fmt.Errorf("irfile: %s: instruction slot %d is corrupt", f.Name, i)
		}
		if !in.Op.Valid() {
			return fmt.Errorf("irfile: %s: instruction %d has unknown op %d", f.Name, i, uint8(in.Op))
		}
		if badType(in.Type) {
			return fmt.Errorf("irfile: %s: instruction %d has unknown type %d", f.Name, i, in.Type)
		}
		for _, a := range in.Args {
			if f.Value(a) == nil {
				return fmt.Errorf("irfile: %s: instruction %d uses missing value %d", f.Name, i, a)
			}
		}
	}
	for i, b := range f.Blocks {
		if b == nil || int(b.ID) != i {
			return fmt.Errorf("irfile: %s: block slot %d is corrupt", f.Name, i)
		}
	}
	if f.Block(f.Entry) == nil {
		return fmt.Errorf("irfile: %s: missing entry block", f.Name)
	}
	return nil
}

// Marshal encodes m into a byte slice.
func Marshal(m *ir.Module, ti *types.Interner) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m, ti); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a module from data.
func Unmarshal(data []byte) (*ir.Module, *types.Interner, error) {
	return Decode(bytes.NewReader(data))
}

// WriteFile atomically replaces path with the encoded module.
func WriteFile(path string, m *ir.Module, ti *types.Interner) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".irfile-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err = Encode(f, m, ti); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadFile decodes the module stored at path.
func ReadFile(path string) (*ir.Module, *types.Interner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	m, ti, err := Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, ti, nil
}
