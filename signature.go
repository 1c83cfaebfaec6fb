// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const signatureFile = "(signature)"

// Signature versions stored in the (signature) file.
const (
	SignatureWeak   = 0
	SignatureStrong = 1
)

const (
	weakSignatureSize   = 64
	strongSignatureSize = 256
)

// SignatureInfo contains parsed signature data from (signature) file.
type SignatureInfo struct {
	Version   uint32
	Signature []byte
}

// Signature reads and parses the (signature) file. It returns nil without
// an error when the archive is not signed.
func (a *Archive) Signature() (*SignatureInfo, error) {
	f, err := a.OpenFile(signatureFile)
	if errors.Is(err, ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := f.ReadAll()
	if err != nil {
		return nil, err
	}
	return parseSignature(data)
}

func parseSignature(data []byte) (*SignatureInfo, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("signature data too small: %d bytes", len(data))
	}
	version := binary.LittleEndian.Uint32(data[0:4])
	sigLength := binary.LittleEndian.Uint32(data[4:8])

	// StormLib writes weak signatures as 8 zero bytes followed by the
	// signature itself.
	if version == SignatureWeak && sigLength == 0 && len(data) == 8+weakSignatureSize {
		sigLength = weakSignatureSize
	}
	if uint64(len(data)) < 8+uint64(sigLength) {
		return nil, fmt.Errorf("signature data truncated: expected %d bytes, got %d", 8+uint64(sigLength), len(data))
	}

	signature := make([]byte, sigLength)
	copy(signature, data[8:8+sigLength])
	return &SignatureInfo{
		Version:   version,
		Signature: signature,
	}, nil
}

// Validate checks that the signature is present and large enough for its
// version. It does not verify the signature against the archive content.
func (s *SignatureInfo) Validate() error {
	if s == nil {
		return fmt.Errorf("no signature available")
	}
	if len(s.Signature) == 0 {
		return fmt.Errorf("empty signature")
	}

	switch s.Version {
	case SignatureWeak:
		if len(s.Signature) < weakSignatureSize {
			return fmt.Errorf("weak signature too short: %d bytes", len(s.Signature))
		}
	case SignatureStrong:
		if len(s.Signature) < strongSignatureSize {
			return fmt.Errorf("strong signature too short: %d bytes", len(s.Signature))
		}
	default:
		return fmt.Errorf("unknown signature version: %d", s.Version)
	}
	return nil
}
