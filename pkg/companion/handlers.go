package companion

import (
	"context"
	"fmt"
	"time"

	"synbridge/pkg/models"
)

func handlePing(_ context.Context, cmd models.Command) models.Result {
	return models.Succeeded(cmd.ID, "pong", map[string]any{"timestamp": time.Now().UnixMilli()})
}

func handleChat(_ context.Context, cmd models.Command) models.Result {
	message, _ := cmd.Param("message")
	text, ok := message.(string)
	if !ok || text == "" {
		return models.Failed(cmd.ID, "chat requires a message")
	}
	return models.Succeeded(cmd.ID, "received", map[string]any{"reply": fmt.Sprintf("echo: %s", text)})
}

// handleSearch answers with an empty hit list; no knowledge base is attached.
func handleSearch(_ context.Context, cmd models.Command) models.Result {
	query, _ := cmd.Param("query")
	q, ok := query.(string)
	if !ok || q == "" {
		return models.Failed(cmd.ID, "search_knowledge requires a query")
	}
	return models.Succeeded(cmd.ID, "no results", map[string]any{"query": q, "results": []any{}})
}
