package bundle

import (
	"os"

	"github.com/enactprotocol/enact/errcode"
)

// Repack unpacks an archive into a fresh temp directory and immediately
// packs it again, used to verify the round-trip fixed point: unpack(pack(d))
// packed a second time must reproduce the original bytes exactly.
func Repack(archive []byte) (Result, error) {
	tmp, err := os.MkdirTemp("", "enact-bundle-*")
	if err != nil {
		return Result{}, errcode.Newf(errcode.EngineError, "creating scratch directory", map[string]any{"error": err.Error()})
	}
	defer os.RemoveAll(tmp)

	if err := Unpack(archive, tmp); err != nil {
		return Result{}, err
	}
	return Pack(tmp)
}
