package testlib

import "testlib-ws/internal/networking"

// CommandExecutor runs the SDK-side commands of a test. Calls are made from
// the library worker one at a time; the executor reports nothing back.
type CommandExecutor interface {
	ExecuteCommand(className, methodName string, params map[string][]string)
}

// ExecutorFunc adapts a plain function to CommandExecutor.
type ExecutorFunc func(className, methodName string, params map[string][]string)

func (f ExecutorFunc) ExecuteCommand(className, methodName string, params map[string][]string) {
	f(className, methodName, params)
}

// JSONExecutorFunc adapts bridge code that wants params as a JSON object string.
type JSONExecutorFunc func(className, methodName, jsonParams string)

func (f JSONExecutorFunc) ExecuteCommand(className, methodName string, params map[string][]string) {
	f(className, methodName, networking.Command{Params: params}.JSONParams())
}
