// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package storm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
)

const knownCompressionBits = CompressionHuffman | CompressionZlib | CompressionPKWare |
	CompressionBzip2 | CompressionSparse | CompressionADPCMMono | CompressionADPCMStereo

// checkCompression reports whether the engine can write with mask.
func checkCompression(mask uint32) Status {
	switch {
	case mask == 0, mask == CompressionZlib, mask == CompressionBzip2:
		return Success
	case mask&^knownCompressionBits != 0:
		return ErrInvalidParameter
	case mask&(CompressionADPCMMono|CompressionADPCMStereo) == CompressionADPCMMono|CompressionADPCMStereo:
		return ErrInvalidParameter
	}
	return ErrNotSupported
}

// compressSector compresses data with a single method and prefixes the
// method byte. The caller keeps the raw data when the result is not smaller.
func compressSector(data []byte, mask uint32) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(mask))

	var w io.WriteCloser
	var err error
	switch mask {
	case CompressionZlib:
		w, err = zlib.NewWriterLevel(&buf, zlib.BestCompression)
	case CompressionBzip2:
		w, err = bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	default:
		return nil, fmt.Errorf("unsupported compression 0x%02X", mask)
	}
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressSector decompresses one MPQ-compressed unit. The first byte is
// the method mask; only zlib and bzip2 are understood.
func decompressSector(data []byte, size uint32) ([]byte, Status, error) {
	if len(data) == 0 {
		return nil, ErrFileCorrupt, fmt.Errorf("empty compressed data")
	}
	mask := data[0]
	payload := data[1:]

	switch mask {
	case CompressionZlib:
		out, err := inflateZlib(payload, size)
		if err != nil {
			return nil, ErrFileCorrupt, err
		}
		return out, Success, nil
	case CompressionBzip2:
		out, err := inflateBzip2(payload, size)
		if err != nil {
			return nil, ErrFileCorrupt, err
		}
		return out, Success, nil
	}
	return nil, ErrNotSupported, fmt.Errorf("unsupported compression 0x%02X", mask)
}

func inflateZlib(data []byte, size uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()
	return readSized(r, size, "zlib")
}

func inflateBzip2(data []byte, size uint32) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("create bzip2 reader: %w", err)
	}
	defer r.Close()
	return readSized(r, size, "bzip2")
}

func readSized(r io.Reader, size uint32, codec string) ([]byte, error) {
	out := make([]byte, size)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%s decompress: %w", codec, err)
	}
	return out[:n], nil
}
