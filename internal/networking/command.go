package networking

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Command is one step of a test as served by the command channel.
type Command struct {
	ClassName    string              `json:"className"`
	FunctionName string              `json:"functionName"`
	Params       map[string][]string `json:"params,omitempty"`
}

// First returns the first value of param key, or "".
func (c Command) First(key string) string {
	if vs := c.Params[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (c Command) Has(key string) bool {
	_, ok := c.Params[key]
	return ok
}

// JSONParams renders Params the way bridge executors expect them.
func (c Command) JSONParams() string {
	if len(c.Params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(c.Params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeCommands parses a command-channel body. An empty body means no commands.
func DecodeCommands(body []byte) ([]Command, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var cmds []Command
	if err := json.Unmarshal(body, &cmds); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	return cmds, nil
}
