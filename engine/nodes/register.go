package nodes

import "github.com/lyzr/soe/engine"

// All returns the default executor for each of the five node types,
// ready to be assigned to a Runtime's Executors map.
func All() map[engine.NodeType]engine.NodeExecutor {
	return map[engine.NodeType]engine.NodeExecutor{
		engine.NodeTypeRouter: Router{},
		engine.NodeTypeTool:   Tool{},
		engine.NodeTypeLLM:    LLM{},
		engine.NodeTypeAgent:  Agent{},
		engine.NodeTypeChild:  Child{},
	}
}
