package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeList is an order-preserving collection of node configs, replacing a
// bare map so a workflow's broadcast fan-out can honor declaration order
// (§4.2, §5) instead of Go's unspecified map iteration order. JSON decoding
// walks the source token stream to recover the object's key order, since
// encoding/json's default map unmarshal does not preserve it.
type NodeList struct {
	order []string
	byID  map[string]*NodeConfig
}

// NewNodeList returns an empty NodeList.
func NewNodeList() *NodeList {
	return &NodeList{byID: make(map[string]*NodeConfig)}
}

// NodesInOrder builds a NodeList from nodes in the order given, keyed by
// each node's own ID field — a convenience constructor for Go literals
// (tests, built-in fixtures) that would otherwise need a map and lose
// declaration order.
func NodesInOrder(nodes ...*NodeConfig) *NodeList {
	nl := NewNodeList()
	for _, n := range nodes {
		nl.Set(n.ID, n)
	}
	return nl
}

// Len reports how many nodes are in the list. A nil receiver reports 0.
func (nl *NodeList) Len() int {
	if nl == nil {
		return 0
	}
	return len(nl.order)
}

// Get looks up a node by id.
func (nl *NodeList) Get(id string) (*NodeConfig, bool) {
	if nl == nil {
		return nil, false
	}
	n, ok := nl.byID[id]
	return n, ok
}

// Set inserts or replaces a node. A new id is appended to the end of the
// declaration order; replacing an existing id keeps its original position.
func (nl *NodeList) Set(id string, n *NodeConfig) {
	if _, exists := nl.byID[id]; !exists {
		nl.order = append(nl.order, id)
	}
	if nl.byID == nil {
		nl.byID = make(map[string]*NodeConfig)
	}
	nl.byID[id] = n
}

// Delete removes a node by id, if present.
func (nl *NodeList) Delete(id string) {
	if nl == nil {
		return
	}
	if _, ok := nl.byID[id]; !ok {
		return
	}
	delete(nl.byID, id)
	for i, existing := range nl.order {
		if existing == id {
			nl.order = append(nl.order[:i], nl.order[i+1:]...)
			break
		}
	}
}

// IDs returns node ids in declaration order.
func (nl *NodeList) IDs() []string {
	if nl == nil {
		return nil
	}
	out := make([]string, len(nl.order))
	copy(out, nl.order)
	return out
}

// All returns the nodes themselves in declaration order.
func (nl *NodeList) All() []*NodeConfig {
	if nl == nil {
		return nil
	}
	out := make([]*NodeConfig, 0, len(nl.order))
	for _, id := range nl.order {
		out = append(out, nl.byID[id])
	}
	return out
}

// Clone returns a deep copy sharing no backing slice/map with nl, used by
// the per-execution workflow registry's copy-on-write isolation (§3).
func (nl *NodeList) Clone() *NodeList {
	if nl == nil {
		return nil
	}
	out := &NodeList{
		order: append([]string(nil), nl.order...),
		byID:  make(map[string]*NodeConfig, len(nl.byID)),
	}
	for id, n := range nl.byID {
		cp := *n
		cp.TriggerSignals = append(Signals(nil), n.TriggerSignals...)
		cp.SignalEmissions = append([]SignalEmission(nil), n.SignalEmissions...)
		if n.Config != nil {
			cfgRaw, err := json.Marshal(n.Config)
			if err == nil {
				var cfgCopy map[string]interface{}
				if json.Unmarshal(cfgRaw, &cfgCopy) == nil {
					cp.Config = cfgCopy
				}
			}
		}
		out.byID[id] = &cp
	}
	return out
}

// MarshalJSON renders the list as the JSON object its declaration order
// came from: "{id1: node1, id2: node2, ...}" with members emitted in
// declaration order (Go's json package preserves map-literal key order
// only when it is this method, not the default map encoder, doing the
// writing).
func (nl *NodeList) MarshalJSON() ([]byte, error) {
	if nl == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range nl.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(nl.byID[id])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the list, recovering the
// object's member order from the token stream rather than from an
// intermediate map[string]T (which Go's encoding/json does not order).
func (nl *NodeList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("NodeList: expected JSON object, got %v", tok)
	}

	out := NewNodeList()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("NodeList: expected string key, got %v", keyTok)
		}

		var n NodeConfig
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("NodeList: decode node %q: %w", key, err)
		}
		if n.ID == "" {
			n.ID = key
		}
		out.Set(key, &n)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}

	*nl = *out
	return nil
}
