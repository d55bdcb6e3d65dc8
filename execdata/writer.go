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

	"github.com/pkg/errors"
)

const (
	blockHeader        byte = 0x01
	blockSessionInfo   byte = 0x10
	blockExecutionData byte = 0x11

	formatMagic   uint16 = 0xC0C0
	formatVersion uint16 = 0x1007
)

// Writer writes dumps in the block framed exec format. Every writer starts with a header block, so
// several writers may append to the same file one after the other.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a new Writer and writes the header block.
func NewWriter(w io.Writer) (*Writer, error) {
	writer := &Writer{w: bufio.NewWriter(w)}
	if err := writer.w.WriteByte(blockHeader); err != nil {
		return nil, err
	}
	writer.writeUint16(formatMagic)
	writer.writeUint16(formatVersion)

	return writer, writer.w.Flush()
}

// WriteDump writes the session info block of the dump followed by one block per class.
func (w *Writer) WriteDump(dump *Dump) error {
	_ = w.w.WriteByte(blockSessionInfo)
	w.writeString(dump.Info.ID)
	w.writeString(dump.Info.Partition)
	w.writeInt64(dump.Info.Start.UnixMilli())
	w.writeInt64(dump.Info.Dump.UnixMilli())

	if dump.Store != nil {
		for _, data := range dump.Store.Contents() {
			w.writeExecutionData(data)
		}
	}

	return w.w.Flush()
}

func (w *Writer) writeExecutionData(data *ExecutionData) {
	_ = w.w.WriteByte(blockExecutionData)
	w.writeUint64(data.Fingerprint)
	w.writeString(data.Name)
	w.writeUvarint(uint64(len(data.Probes)))

	packed := make([]byte, (len(data.Probes)+7)/8)
	for i, probe := range data.Probes {
		if probe {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	_, _ = w.w.Write(packed)
}

func (w *Writer) writeString(value string) {
	w.writeUvarint(uint64(len(value)))
	_, _ = w.w.WriteString(value)
}

func (w *Writer) writeUvarint(value uint64) {
	_, _ = w.w.Write(binary.AppendUvarint(nil, value))
}

func (w *Writer) writeUint16(value uint16) {
	_, _ = w.w.Write(binary.BigEndian.AppendUint16(nil, value))
}

func (w *Writer) writeUint64(value uint64) {
	_, _ = w.w.Write(binary.BigEndian.AppendUint64(nil, value))
}

func (w *Writer) writeInt64(value int64) {
	w.writeUint64(uint64(value))
}

// AppendDump appends the given dump to the exec file at path, creating the file and its parent
// directories if needed.
func AppendDump(path string, dump *Dump) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}

	file, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	writer, err := NewWriter(file)
	if err != nil {
		return errors.Wrapf(err, "failed to write to %s", path)
	}

	return errors.Wrapf(writer.WriteDump(dump), "failed to write to %s", path)
}
