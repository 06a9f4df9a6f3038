// Package ports defines the interfaces through which the core reaches its
// collaborators: the durable store, the script sandbox, and the chat
// transport. Implementations live under infrastructure/ and sandbox/.
package ports
