/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package execdata

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Upper bounds of the length fields of the format. Anything above them can only come from a corrupt
// file and is rejected before memory is allocated for it.
const (
	maxStringLength = 1 << 16
	maxProbeCount   = 1 << 24
)

// Reader reads dumps from the block framed exec format one at a time, so a file holding many dumps
// never has to be expanded into memory at once.
type Reader struct {
	r          *bufio.Reader
	current    *Dump
	headerSeen bool
}

// NewReader creates a new Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next dump of the stream. Execution data blocks belong to the closest preceding
// session info block. io.EOF is returned once the stream is exhausted.
func (r *Reader) Next() (*Dump, error) {
	for {
		blockType, err := r.r.ReadByte()
		if err == io.EOF {
			if r.current == nil {
				return nil, io.EOF
			}
			dump := r.current
			r.current = nil
			return dump, nil
		}
		if err != nil {
			return nil, err
		}

		if blockType != blockHeader && !r.headerSeen {
			return nil, errors.New("invalid execution data file: missing header")
		}

		switch blockType {
		case blockHeader:
			if err := r.readHeader(); err != nil {
				return nil, err
			}
		case blockSessionInfo:
			info, err := r.readSessionInfo()
			if err != nil {
				return nil, err
			}
			previous := r.current
			r.current = &Dump{Info: *info, Store: NewStore()}
			if previous != nil {
				return previous, nil
			}
		case blockExecutionData:
			data, err := r.readExecutionData()
			if err != nil {
				return nil, err
			}
			if r.current == nil {
				r.current = &Dump{Store: NewStore()}
			}
			if err := r.current.Store.Merge(data); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("unknown block type %#x", blockType)
		}
	}
}

func (r *Reader) readHeader() error {
	var header [4]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return errors.Wrap(err, "truncated header block")
	}
	if magic := binary.BigEndian.Uint16(header[0:2]); magic != formatMagic {
		return errors.Errorf("invalid execution data file: bad magic number %#x", magic)
	}
	if version := binary.BigEndian.Uint16(header[2:4]); version != formatVersion {
		return errors.Errorf("incompatible execution data version %#x", version)
	}
	r.headerSeen = true

	return nil
}

func (r *Reader) readSessionInfo() (*SessionInfo, error) {
	id, err := r.readString()
	if err != nil {
		return nil, err
	}
	partition, err := r.readString()
	if err != nil {
		return nil, err
	}
	start, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	dump, err := r.readUint64()
	if err != nil {
		return nil, err
	}

	return &SessionInfo{
		ID:        id,
		Partition: partition,
		Start:     time.UnixMilli(int64(start)),
		Dump:      time.UnixMilli(int64(dump)),
	}, nil
}

func (r *Reader) readExecutionData() (*ExecutionData, error) {
	fingerprint, err := r.readUint64()
	if err != nil {
		return nil, err
	}
	name, err := r.readString()
	if err != nil {
		return nil, err
	}
	count, err := binary.ReadUvarint(r.r)
	if err != nil {
		return nil, errors.Wrap(err, "truncated execution data block")
	}
	if count > maxProbeCount {
		return nil, errors.Errorf("corrupt execution data block: class %s declares %d probes", name, count)
	}

	packed := make([]byte, (count+7)/8)
	if _, err := io.ReadFull(r.r, packed); err != nil {
		return nil, errors.Wrap(err, "truncated execution data block")
	}
	probes := make([]bool, count)
	for i := range probes {
		probes[i] = packed[i/8]&(1<<(i%8)) != 0
	}

	return NewExecutionData(fingerprint, name, probes), nil
}

func (r *Reader) readString() (string, error) {
	length, err := binary.ReadUvarint(r.r)
	if err != nil {
		return "", errors.Wrap(err, "truncated string")
	}
	if length > maxStringLength {
		return "", errors.Errorf("corrupt string of length %d", length)
	}
	value := make([]byte, length)
	if _, err := io.ReadFull(r.r, value); err != nil {
		return "", errors.Wrap(err, "truncated string")
	}

	return string(value), nil
}

func (r *Reader) readUint64() (uint64, error) {
	var value [8]byte
	if _, err := io.ReadFull(r.r, value[:]); err != nil {
		return 0, errors.Wrap(err, "truncated block")
	}

	return binary.BigEndian.Uint64(value[:]), nil
}

// ReadFile reads every dump of the exec file at path.
func ReadFile(path string) ([]*Dump, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var dumps []*Dump
	reader := NewReader(file)
	for {
		dump, err := reader.Next()
		if err == io.EOF {
			return dumps, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		dumps = append(dumps, dump)
	}
}
