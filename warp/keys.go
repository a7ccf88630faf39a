package warp

import "strings"

// Key encodings use a reserved separator (0x00) so that no legal nodeId,
// label, or propKey can collide across namespaces, plus a distinct leading
// prefix byte (0x01) that marks edge-property keys so they never collide
// with node-property keys.
const (
	keySeparator    = "\x00"
	edgePropPrefix  = "\x01"
)

// EdgeKey returns the canonical element used in edgeAlive: from, to, and
// label joined by the reserved separator.
func EdgeKey(from, to, label string) string {
	var b strings.Builder
	b.Grow(len(from) + len(to) + len(label) + 2)
	b.WriteString(from)
	b.WriteString(keySeparator)
	b.WriteString(to)
	b.WriteString(keySeparator)
	b.WriteString(label)
	return b.String()
}

// SplitEdgeKey decomposes a value previously produced by EdgeKey.
func SplitEdgeKey(key string) (from, to, label string, ok bool) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// NodePropKey returns the canonical prop map key for a node property.
func NodePropKey(nodeID, propKey string) string {
	return nodeID + keySeparator + propKey
}

// EdgePropKey returns the canonical prop map key for an edge property,
// distinguished from node-property keys by the edgePropPrefix byte so the
// two namespaces can never collide even if a nodeId happens to equal some
// edge's encoded from/to/label/propKey tuple.
func EdgePropKey(from, to, label, propKey string) string {
	var b strings.Builder
	b.WriteString(edgePropPrefix)
	b.WriteString(from)
	b.WriteString(keySeparator)
	b.WriteString(to)
	b.WriteString(keySeparator)
	b.WriteString(label)
	b.WriteString(keySeparator)
	b.WriteString(propKey)
	return b.String()
}

// IsEdgePropKey reports whether key was produced by EdgePropKey.
func IsEdgePropKey(key string) bool {
	return strings.HasPrefix(key, edgePropPrefix)
}

// splitEdgePropKey decomposes a value previously produced by EdgePropKey.
func splitEdgePropKey(key string) (from, to, label, propKey string, ok bool) {
	if !IsEdgePropKey(key) {
		return "", "", "", "", false
	}
	parts := strings.Split(key[len(edgePropPrefix):], keySeparator)
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}
