// Package petrel is an agent runtime framework.
//
// An agent combines a model, a set of tools and instructions. Agents keep
// conversation history in pluggable session storage, remember facts about
// users across sessions, and search knowledge bases for grounding context.
// Deterministic multi-step pipelines are built from workflow primitives.
//
// The building blocks live under pkg/:
//
//   - pkg/models: LLM providers (OpenAI, Anthropic, Ollama)
//   - pkg/tools: built-in toolkits and MCP tool servers
//   - pkg/storage: session persistence (memory, SQLite, Postgres, MySQL, JSON)
//   - pkg/memory: working memory strategies and long-term user memories
//   - pkg/knowledge: document readers, embeddings and vector search
//   - pkg/agent: the run loop, teams
//   - pkg/workflow: steps, conditions, loops, parallel branches, routers
//   - pkg/server: HTTP API
//
// The petrel CLI (cmd/petrel) wires everything together from a YAML config.
package petrel
