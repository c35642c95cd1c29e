package cacheserver

import (
	"encoding/json"
	"strconv"

	"github.com/google/renameio"

	"github.com/polykit-dev/polykit/internal/turbopath"
)

func writeSidecar(path turbopath.AbsoluteSystemPath, digest string) error {
	raw, err := json.Marshal(sidecar{Hash: digest})
	if err != nil {
		return err
	}
	return renameio.WriteFile(path.ToString(), raw, 0644)
}

func readSidecarDigest(path turbopath.AbsoluteSystemPath) (string, error) {
	raw, err := path.ReadFile()
	if err != nil {
		return "", err
	}
	var s sidecar
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s.Hash, nil
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
