// Package api serves the node's local HTTP control surface and provides a
// typed client for it.
//
// # Endpoints
//
//	GET      /health                    liveness check
//	GET      /set-master?url=           connect to a coordinator hub
//	GET|POST /disconnect-master         drop the coordinator channel
//	GET      /status                    connection plus worker status
//	POST     /api/rpc/start-subtitize   create and launch a task
//	POST     /api/rpc/stop-subtitize    cancel the active task
//	GET      /api/rpc/get-status        worker status only
//	GET      /metrics                   Prometheus exposition
//
// Every response is JSON with snake_case fields. Handlers call the same
// node.Service methods the coordinator invokes, so both surfaces agree on
// result codes and messages. Request bodies are validated with
// go-playground/validator. There is no authentication; bind the server to a
// trusted interface.
package api
