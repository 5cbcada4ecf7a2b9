package upload

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/fn"
)

// sniffWindow bounds how much of a staged file the magic-byte sniffer reads,
// matching mimetype's own default detection window.
const sniffWindow = 3072

// securityExecutableMagic lists magic byte prefixes of executable formats
// that must never pass as a document upload regardless of declared type.
var securityExecutableMagic = [][]byte{
	{0x4d, 0x5a},             // MZ: Windows PE
	{0x7f, 0x45, 0x4c, 0x46}, // ELF
	{0xca, 0xfe, 0xba, 0xbe}, // Mach-O fat binary / Java class
	{0xfe, 0xed, 0xfa, 0xce}, // Mach-O 32-bit
	{0xfe, 0xed, 0xfa, 0xcf}, // Mach-O 64-bit
}

// checkState threads one upload through the validation pipeline, matching
// the teacher's single-type Stage[T,T] composition style (engine/ingest's
// Validate/Parse chain) rather than a heterogeneous per-check type.
type checkState struct {
	tempPath     string
	filename     string
	declaredMIME string
	maxSize      int64
	allowedExts  map[string]bool

	size         int64
	hash         string
	detectedMIME string
	report       domain.ValidationReport
}

func sizeCheck(ctx context.Context, s checkState) fn.Result[checkState] {
	info, err := os.Stat(s.tempPath)
	if err != nil {
		return fn.Err[checkState](err)
	}
	s.size = info.Size()
	s.report.SizeOK = s.maxSize <= 0 || s.size <= s.maxSize
	if !s.report.SizeOK {
		s.report.Reasons = append(s.report.Reasons, "file exceeds maximum allowed size")
	}
	return fn.Ok(s)
}

func extensionCheck(ctx context.Context, s checkState) fn.Result[checkState] {
	ext := strings.ToLower(filepath.Ext(s.filename))
	if len(s.allowedExts) == 0 {
		s.report.ExtensionOK = true
		return fn.Ok(s)
	}
	s.report.ExtensionOK = s.allowedExts[ext]
	if !s.report.ExtensionOK {
		s.report.Reasons = append(s.report.Reasons, "extension not in allow-list: "+ext)
	}
	return fn.Ok(s)
}

func mimeSniffCheck(ctx context.Context, s checkState) fn.Result[checkState] {
	mime, err := mimetype.DetectFile(s.tempPath)
	if err != nil {
		return fn.Err[checkState](err)
	}
	detected := mime.String()
	s.report.MagicByteMatch = s.declaredMIME == "" || mime.Is(s.declaredMIME) || detected == s.declaredMIME
	if !s.report.MagicByteMatch {
		s.report.Reasons = append(s.report.Reasons, "declared mime "+s.declaredMIME+" does not match detected "+detected)
	}
	s.detectedMIME = detected
	return fn.Ok(s)
}

func corruptionCheck(ctx context.Context, s checkState) fn.Result[checkState] {
	f, err := os.Open(s.tempPath)
	if err != nil {
		return fn.Err[checkState](err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		s.report.CorruptionFree = false
		s.report.Reasons = append(s.report.Reasons, "file could not be read to completion: "+err.Error())
		return fn.Ok(s)
	}
	s.hash = hex.EncodeToString(h.Sum(nil))
	s.report.CorruptionFree = true
	return fn.Ok(s)
}

func securityCheck(ctx context.Context, s checkState) fn.Result[checkState] {
	f, err := os.Open(s.tempPath)
	if err != nil {
		return fn.Err[checkState](err)
	}
	defer f.Close()

	head := make([]byte, sniffWindow)
	n, _ := io.ReadFull(bufio.NewReader(f), head)
	head = head[:n]

	for _, magic := range securityExecutableMagic {
		if bytes.HasPrefix(head, magic) {
			s.report.SecurityFlags = append(s.report.SecurityFlags, "embedded-executable")
			break
		}
	}
	if hasDoubleExtension(s.filename) {
		s.report.SecurityFlags = append(s.report.SecurityFlags, "double-extension")
	}
	return fn.Ok(s)
}

// hasDoubleExtension flags names like "invoice.pdf.exe": any base name with
// more than one extension. The declared document type is not consulted.
func hasDoubleExtension(filename string) bool {
	base := filepath.Base(filename)
	parts := strings.Split(base, ".")
	return len(parts) > 2
}

// Validate runs the full size/extension/magic-byte/corruption/security
// pipeline over a staged file and returns the accumulated report plus the
// computed sha-256 hash and detected mime type.
func Validate(ctx context.Context, tempPath, filename, declaredMIME string, maxSize int64, allowedExts map[string]bool) (domain.ValidationReport, string, string, error) {
	pipeline := fn.Pipeline(sizeCheck, extensionCheck, mimeSniffCheck, corruptionCheck, securityCheck)
	result := pipeline(ctx, checkState{
		tempPath:     tempPath,
		filename:     filename,
		declaredMIME: declaredMIME,
		maxSize:      maxSize,
		allowedExts:  allowedExts,
	})
	state, err := result.Unwrap()
	if err != nil {
		return domain.ValidationReport{}, "", "", err
	}
	return state.report, state.hash, state.detectedMIME, nil
}
