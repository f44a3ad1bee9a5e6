package builtintools

import jsonpatch "github.com/evanphx/json-patch/v5"

// jsonpatchMergePatch applies an RFC 7396 JSON merge patch, thin wrapper
// kept in its own file so the jsonpatch import stays isolated to one spot.
func jsonpatchMergePatch(original, patch []byte) ([]byte, error) {
	return jsonpatch.MergePatch(original, patch)
}
