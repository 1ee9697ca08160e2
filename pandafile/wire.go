package pandafile

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Magic identifies a CBOR class container.
const Magic = "PFC1"

// container is the on-disk layout of a .pfc file.
type container struct {
	Magic   string        `cbor:"1,keyasint"`
	Strings []string      `cbor:"2,keyasint"`
	Classes []ClassRecord `cbor:"3,keyasint"`
}

// cborEncMode uses canonical options so equal files encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("pandafile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a file to CBOR bytes.
func Marshal(f *File) ([]byte, error) {
	return cborEncMode.Marshal(&container{
		Magic:   Magic,
		Strings: f.strings,
		Classes: f.classes,
	})
}

// Unmarshal parses CBOR bytes into a validated file named name.
func Unmarshal(name string, data []byte) (*File, error) {
	var c container
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("pandafile: unmarshal %s: %w", name, err)
	}
	if c.Magic != Magic {
		return nil, fmt.Errorf("pandafile: %s: bad magic %q", name, c.Magic)
	}
	f, err := newFile(name, c.Strings, c.Classes)
	if err != nil {
		return nil, fmt.Errorf("pandafile: %s: %w", name, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("pandafile: %w", err)
	}
	return f, nil
}

// Open reads and parses the file at path.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pandafile: cannot read %s: %w", path, err)
	}
	return Unmarshal(path, data)
}

// WriteFile serializes f to path.
func WriteFile(path string, f *File) error {
	data, err := Marshal(f)
	if err != nil {
		return fmt.Errorf("pandafile: marshal %s: %w", f.name, err)
	}
	return os.WriteFile(path, data, 0644)
}
