package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const fieldSep = byte(0x1f)

// Fingerprint computes the cache key for a processor invocation: the
// SHA-256 of processor_name, processor_version, and input_hash joined by
// 0x1F, followed by canonical JSON of options. encoding/json already
// serializes map[string]any keys in sorted order, so two invocations with
// identical processor identity, input, and options always collide;
// anything else never does.
func Fingerprint(processorName, processorVersion, inputHash string, options map[string]any) string {
	optionsJSON, _ := json.Marshal(options)

	h := sha256.New()
	h.Write([]byte(processorName))
	h.Write([]byte{fieldSep})
	h.Write([]byte(processorVersion))
	h.Write([]byte{fieldSep})
	h.Write([]byte(inputHash))
	h.Write([]byte{fieldSep})
	h.Write(optionsJSON)
	return hex.EncodeToString(h.Sum(nil))
}
