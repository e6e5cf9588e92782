package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Error responses
var (
	ErrMissingID      = errors.New("node group has no id")
	ErrMissingName    = errors.New("node group has no name")
	ErrMissingClasses = errors.New("node group has no classes")
)

// NodeGroup is a node group as returned by the classifier API.
// Only id, name and classes are interpreted, the other fields are carried through.
type NodeGroup struct {
	ID                string          `json:"id" doc:"Unique identifier of the node group"`
	Name              string          `json:"name" doc:"Name of the node group"`
	Parent            string          `json:"parent,omitempty" doc:"Identifier of the parent node group"`
	Environment       string          `json:"environment,omitempty" doc:"Environment of the node group"`
	EnvironmentTrumps bool            `json:"environment_trumps,omitempty" doc:"Whether this group's environment overrides others"`
	Description       string          `json:"description,omitempty" doc:"Description of the node group"`
	Classes           ClassMap        `json:"classes" doc:"Classes applied by the node group, keyed by class name"`
	Rule              json.RawMessage `json:"rule,omitempty" doc:"Node matching rule"`
	Variables         json.RawMessage `json:"variables,omitempty" doc:"Top-scope variables"`
	ConfigData        json.RawMessage `json:"config_data,omitempty" doc:"Hiera-style configuration data"`
	LastEdited        string          `json:"last_edited,omitempty" doc:"Timestamp of the last edit"`
	SerialNumber      int64           `json:"serial_number,omitempty" doc:"Serial number of the last edit"`
}

// Validate reports fields the classifier always sends but which are missing here.
func (g NodeGroup) Validate() error {
	if g.ID == "" {
		return ErrMissingID
	}
	if g.Name == "" {
		return fmt.Errorf("%w (id %s)", ErrMissingName, g.ID)
	}
	if !g.Classes.decoded {
		return fmt.Errorf("%w (group %q)", ErrMissingClasses, g.Name)
	}
	return nil
}

// DecodeGroups decodes a classifier group listing and validates every group.
func DecodeGroups(data []byte) ([]NodeGroup, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("group listing is not valid JSON")
	}
	if !gjson.ParseBytes(data).IsArray() {
		return nil, errors.New("group listing is not a JSON array")
	}
	groups := []NodeGroup{}
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("unable to decode group listing: %w", err)
	}
	for i, g := range groups {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
	}
	return groups, nil
}

// Clone returns a copy of the group whose classes can be changed independently.
func (g NodeGroup) Clone() NodeGroup {
	g.Classes = g.Classes.Clone()
	return g
}

// FindGroup returns the first group with the given name.
func FindGroup(groups []NodeGroup, name string) (NodeGroup, bool) {
	for _, g := range groups {
		if g.Name == name {
			return g, true
		}
	}
	return NodeGroup{}, false
}

// ClassMap maps class names to their parameters.
// Names keep the order in which they were decoded or set.
// A nil parameter value encodes as JSON null, which the classifier reads as "unset".
type ClassMap struct {
	names   []string
	params  map[string]json.RawMessage
	decoded bool
}

// NewClassMap returns a ClassMap holding the given names with null parameters.
func NewClassMap(names ...string) ClassMap {
	c := ClassMap{}
	for _, name := range names {
		c.Set(name, nil)
	}
	return c
}

// Len returns the number of classes.
func (c ClassMap) Len() int {
	return len(c.names)
}

// Names returns the class names in order.
func (c ClassMap) Names() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// Has reports whether the class is present.
func (c ClassMap) Has(name string) bool {
	_, ok := c.params[name]
	return ok
}

// Params returns the raw parameters of a class. A nil value means JSON null.
func (c ClassMap) Params(name string) (json.RawMessage, bool) {
	p, ok := c.params[name]
	return p, ok
}

// Clone returns a copy that shares no state with c.
func (c ClassMap) Clone() ClassMap {
	clone := ClassMap{decoded: c.decoded}
	for _, name := range c.names {
		clone.Set(name, c.params[name])
	}
	return clone
}

// Set adds or replaces a class. New names are appended.
func (c *ClassMap) Set(name string, params json.RawMessage) {
	if c.params == nil {
		c.params = map[string]json.RawMessage{}
	}
	if _, ok := c.params[name]; !ok {
		c.names = append(c.names, name)
	}
	if isNull(params) {
		params = nil
	}
	c.params[name] = params
}

// Delete removes a class if present.
func (c *ClassMap) Delete(name string) {
	if _, ok := c.params[name]; !ok {
		return
	}
	delete(c.params, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i:i], c.names[i+1:]...)
			break
		}
	}
}

// WithPrefix returns the class names starting with prefix, in order.
func (c ClassMap) WithPrefix(prefix string) []string {
	selected := []string{}
	for _, name := range c.names {
		if strings.HasPrefix(name, prefix) {
			selected = append(selected, name)
		}
	}
	return selected
}

// MarshalJSON encodes the classes as an object in name order.
func (c ClassMap) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, name := range c.names {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		if p := c.params[name]; p != nil {
			b.Write(p)
		} else {
			b.WriteString("null")
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON decodes a classes object, keeping the document order of its keys.
// Every value must be an object (class parameters) or null.
func (c *ClassMap) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("classes: invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return fmt.Errorf("classes: expected an object, got %s", res.Type)
	}

	decoded := ClassMap{decoded: true}
	var err error
	res.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Null && !value.IsObject() {
			err = fmt.Errorf("classes: parameters of %q must be an object or null, got %s", key.String(), value.Type)
			return false
		}
		decoded.Set(key.String(), json.RawMessage(value.Raw))
		return true
	})
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
