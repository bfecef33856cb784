package testserver

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"testlib-ws/internal/networking"
)

// Script lists the tests the mock server hands out, in order.
type Script struct {
	Tests []Test `yaml:"tests"`
}

type Test struct {
	Name     string    `yaml:"name"`
	BasePath string    `yaml:"base_path"`
	Commands []Command `yaml:"commands"`
	// InfoReply is answered to every test_server post made during this test.
	InfoReply []Command `yaml:"info_reply"`
}

type Command struct {
	Class    string              `yaml:"class"`
	Function string              `yaml:"function"`
	Params   map[string][]string `yaml:"params"`
}

func (c Command) wire() networking.Command {
	return networking.Command{ClassName: c.Class, FunctionName: c.Function, Params: c.Params}
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, t := range s.Tests {
		if t.Name == "" {
			return nil, fmt.Errorf("parse script: test %d has no name", i)
		}
		for j, c := range t.Commands {
			if c.Class == "" || c.Function == "" {
				return nil, fmt.Errorf("parse script: test %q command %d needs class and function", t.Name, j)
			}
		}
	}
	return &s, nil
}

// Select returns the tests picked by a Test-Names header. Entries are ';'
// terminated; an entry ending in '/' selects every test under that prefix.
// An empty header selects everything.
func (s *Script) Select(testNames string) []Test {
	var picks []string
	for _, n := range strings.Split(testNames, ";") {
		if n = strings.TrimSpace(n); n != "" {
			picks = append(picks, n)
		}
	}
	if len(picks) == 0 {
		return append([]Test(nil), s.Tests...)
	}

	var out []Test
	for _, t := range s.Tests {
		for _, p := range picks {
			if t.Name == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(t.Name, p)) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// batch renders a test as the command list a client receives: a resetTest,
// the scripted commands, then endTestReadNext.
func (t Test) batch() []networking.Command {
	cmds := make([]networking.Command, 0, len(t.Commands)+2)
	cmds = append(cmds, networking.Command{
		ClassName:    "TestLibrary",
		FunctionName: "resetTest",
		Params:       map[string][]string{"basePath": {t.BasePath}, "testName": {t.Name}},
	})
	for _, c := range t.Commands {
		cmds = append(cmds, c.wire())
	}
	return append(cmds, networking.Command{ClassName: "TestLibrary", FunctionName: "endTestReadNext"})
}
